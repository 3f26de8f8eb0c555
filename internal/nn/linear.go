package nn

import (
	"github.com/23skdu/longbow-bert/internal/device"
)

// Linear is a dense layer y = x·Wᵀ + b with W stored (out, in).
//
// The (out, in) layout matches PyTorch and MindSpore checkpoints, and lets a
// decoder reuse an embedding table of shape (vocab, hidden) as its weight.
type Linear struct {
	Backend device.Backend
	Weight  device.Tensor
	Bias    device.Tensor // nil when the layer has no bias
}

// NewLinear allocates a zero-initialised dense layer.
func NewLinear(backend device.Backend, in, out int, bias bool) *Linear {
	l := &Linear{
		Backend: backend,
		Weight:  backend.NewTensor(out, in, nil),
	}
	if bias {
		l.Bias = backend.NewTensor(1, out, nil)
	}
	return l
}

// InFeatures returns the input width.
func (l *Linear) InFeatures() int {
	_, in := l.Weight.Dims()
	return in
}

// OutFeatures returns the output width.
func (l *Linear) OutFeatures() int {
	out, _ := l.Weight.Dims()
	return out
}

// Forward projects x (rows, in) to a new pooled tensor (rows, out).
func (l *Linear) Forward(x device.Tensor) device.Tensor {
	return x.Linear(x, l.Weight.T(), l.Bias)
}
