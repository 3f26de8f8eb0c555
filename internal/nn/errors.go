package nn

import "errors"

var (
	// ErrIndexOutOfRange is returned when a lookup or class index falls outside its table.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrShapeMismatch is returned when paired inputs disagree on length.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrUnknownActivation is returned for activation names outside the supported set.
	ErrUnknownActivation = errors.New("unknown activation")
)
