package procedure

import "errors"

var (
	ErrNotFound        = errors.New("procedure: not found")
	ErrRecursionLimit  = errors.New("procedure: recursion limit exceeded")
	ErrChannelReserved = errors.New("procedure: channel already reserved by an outer call")
	ErrAccessDenied    = errors.New("procedure: access denied")
)
