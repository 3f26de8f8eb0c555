package checkpoint

import "errors"

var (
	// ErrTorchUnavailable is returned when a source file cannot be read as a
	// PyTorch state dict.
	ErrTorchUnavailable = errors.New("pytorch state dict unavailable")
	// ErrSaveCheckpoint is returned when the converted checkpoint cannot be written.
	ErrSaveCheckpoint = errors.New("save checkpoint failed")
	// ErrShapeMismatch is returned when a stored tensor does not fit its parameter.
	ErrShapeMismatch = errors.New("checkpoint shape mismatch")
	// ErrInvalidCheckpoint is returned for malformed native checkpoints.
	ErrInvalidCheckpoint = errors.New("invalid checkpoint")
)
