package nn

import (
	"github.com/23skdu/longbow-bert/internal/device"
)

// LayerNorm normalises the last axis with learned gain (gamma) and offset (beta).
type LayerNorm struct {
	Gamma device.Tensor
	Beta  device.Tensor
	Eps   float32
}

func NewLayerNorm(backend device.Backend, size int, eps float32) *LayerNorm {
	ones := make([]float32, size)
	for i := range ones {
		ones[i] = 1.0
	}

	return &LayerNorm{
		Gamma: backend.NewTensor(1, size, ones),
		Beta:  backend.NewTensor(1, size, nil),
		Eps:   eps,
	}
}

// Forward performs LayerNorm in-place and returns its input.
func (l *LayerNorm) Forward(input device.Tensor) device.Tensor {
	input.LayerNorm(l.Gamma, l.Beta, l.Eps)
	return input
}
