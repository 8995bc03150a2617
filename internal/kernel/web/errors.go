package web

import "errors"

var (
	ErrEventChannelFull = errors.New("web: admin event channel full")
	ErrNoMatch          = errors.New("web: no matcher accepted the request")
	ErrMethodNotAllowed = errors.New("web: method not allowed")
)
