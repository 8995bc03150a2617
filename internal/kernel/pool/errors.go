package pool

import "errors"

var (
	ErrClosed      = errors.New("pool: closed")
	ErrWaitTimeout = errors.New("pool: acquire timed out waiting for a free channel")
)
