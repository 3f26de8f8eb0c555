package model

import "errors"

var (
	// ErrHeadsNotDivisible is returned when hidden_size is not a multiple of num_attention_heads.
	ErrHeadsNotDivisible = errors.New("hidden size is not a multiple of the number of attention heads")
	// ErrInvalidConfig is returned for configurations that cannot describe a model.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrInvalidInput is returned when forward inputs are ragged, empty or out of range.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnknownModel is returned by the pretrained registry for unsupported names.
	ErrUnknownModel = errors.New("unknown pretrained model")
)
