package security

import "errors"

var (
	ErrInvalidCredentials = errors.New("security: invalid credentials")
	ErrStaleNonce         = errors.New("security: nonce is stale")
	ErrUnknownUser        = errors.New("security: unknown user")
	ErrTokenExpired       = errors.New("security: token expired")
	ErrTokenInvalid       = errors.New("security: token invalid")
	ErrAccessDenied       = errors.New("security: access denied")
)
