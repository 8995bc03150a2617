package storage

import "errors"

// Sentinel errors returned by Storage implementations and RootStorage.
var (
	ErrNotFound       = errors.New("storage: object not found")
	ErrReadOnly       = errors.New("storage: mount is read-only")
	ErrMountNotFound  = errors.New("storage: mount path not found")
	ErrMountConflict  = errors.New("storage: mount path already in use")
	ErrInvalidPath    = errors.New("storage: invalid path")
	ErrClosed         = errors.New("storage: already closed")
	ErrUnsupportedOp  = errors.New("storage: operation not supported by backend")
)

// OpFailed wraps a lower-level error with the failing operation and path,
// in the teacher's {Operation, Cause}-with-Unwrap idiom.
type OpFailed struct {
	Op    string
	Path  string
	Cause error
}

func (e *OpFailed) Error() string {
	return "storage: " + e.Op + " " + e.Path + ": " + e.Cause.Error()
}

func (e *OpFailed) Unwrap() error { return e.Cause }
