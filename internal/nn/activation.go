package nn

import (
	"fmt"
	"strings"

	"github.com/23skdu/longbow-bert/internal/device"
	"github.com/23skdu/longbow-bert/internal/simd"
)

// Activation is the closed set of nonlinearities a config may name.
type Activation int

const (
	ActivationGELU Activation = iota
	ActivationGELUTanh
	ActivationReLU
	ActivationTanh
	ActivationSiLU
	ActivationSigmoid
)

var activationNames = map[string]Activation{
	"gelu":              ActivationGELU,
	"gelu_new":          ActivationGELUTanh,
	"gelu_fast":         ActivationGELUTanh,
	"gelu_pytorch_tanh": ActivationGELUTanh,
	"relu":              ActivationReLU,
	"tanh":              ActivationTanh,
	"silu":              ActivationSiLU,
	"swish":             ActivationSiLU,
	"sigmoid":           ActivationSigmoid,
}

// ParseActivation maps a config name such as "gelu" to an Activation.
func ParseActivation(name string) (Activation, error) {
	a, ok := activationNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownActivation, name)
	}
	return a, nil
}

func (a Activation) String() string {
	switch a {
	case ActivationGELU:
		return "gelu"
	case ActivationGELUTanh:
		return "gelu_new"
	case ActivationReLU:
		return "relu"
	case ActivationTanh:
		return "tanh"
	case ActivationSiLU:
		return "silu"
	case ActivationSigmoid:
		return "sigmoid"
	default:
		return fmt.Sprintf("Activation(%d)", int(a))
	}
}

// Func resolves the activation to an in-place tensor function.
func (a Activation) Func() func(device.Tensor) {
	switch a {
	case ActivationGELUTanh:
		return func(t device.Tensor) { t.Apply(simd.GeluTanh) }
	case ActivationReLU:
		return func(t device.Tensor) { t.Apply(relu) }
	case ActivationTanh:
		return func(t device.Tensor) { t.Tanh() }
	case ActivationSiLU:
		return func(t device.Tensor) { t.Apply(silu) }
	case ActivationSigmoid:
		return func(t device.Tensor) { t.Apply(sigmoid) }
	default:
		return func(t device.Tensor) { t.Gelu() }
	}
}

func relu(data []float32) {
	for i, v := range data {
		if v < 0 {
			data[i] = 0
		}
	}
}

func silu(data []float32) {
	for i, v := range data {
		data[i] = v * simd.Sigmoid(v)
	}
}

func sigmoid(data []float32) {
	for i, v := range data {
		data[i] = simd.Sigmoid(v)
	}
}
