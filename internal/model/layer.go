package model

import (
	"context"
	"fmt"
	"time"

	"github.com/23skdu/longbow-bert/internal/device"
	"github.com/23skdu/longbow-bert/internal/nn"
)

// Intermediate is the feed-forward expansion with the configured activation.
type Intermediate struct {
	Dense      *nn.Linear
	Activation nn.Activation
	act        func(device.Tensor)
}

func NewIntermediate(config Config, backend device.Backend) (*Intermediate, error) {
	act, err := config.Activation()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return &Intermediate{
		Dense:      nn.NewLinear(backend, config.HiddenSize, config.IntermediateSize, true),
		Activation: act,
		act:        act.Func(),
	}, nil
}

func (i *Intermediate) Forward(hiddenStates device.Tensor) device.Tensor {
	hiddenStates = i.Dense.Forward(hiddenStates)
	i.act(hiddenStates)
	return hiddenStates
}

// Output projects the feed-forward result back to hidden size and adds the residual.
type Output struct {
	Dense     *nn.Linear
	LayerNorm *nn.LayerNorm
	Dropout   *nn.Dropout
}

func NewOutput(config Config, backend device.Backend) *Output {
	return &Output{
		Dense:     nn.NewLinear(backend, config.IntermediateSize, config.HiddenSize, true),
		LayerNorm: nn.NewLayerNorm(backend, config.HiddenSize, 1e-12),
		Dropout:   nn.NewDropout(config.HiddenDropoutProb),
	}
}

func (o *Output) Forward(hiddenStates, inputTensor device.Tensor) device.Tensor {
	hiddenStates = o.Dense.Forward(hiddenStates)
	hiddenStates = o.Dropout.Forward(hiddenStates)
	hiddenStates.Add(inputTensor)
	return o.LayerNorm.Forward(hiddenStates)
}

// Layer is a single Transformer block.
type Layer struct {
	Backend      device.Backend
	Attention    *Attention
	Intermediate *Intermediate
	Output       *Output
}

func NewLayer(config Config, backend device.Backend) (*Layer, error) {
	attention, err := NewAttention(config, backend)
	if err != nil {
		return nil, err
	}
	intermediate, err := NewIntermediate(config, backend)
	if err != nil {
		return nil, err
	}
	return &Layer{
		Backend:      backend,
		Attention:    attention,
		Intermediate: intermediate,
		Output:       NewOutput(config, backend),
	}, nil
}

func (l *Layer) Forward(hidden States, mask [][]float32, headMask []float32) (States, *AttentionProbs, error) {
	attentionOutput, probs, err := l.Attention.Forward(hidden, mask, headMask)
	if err != nil {
		return States{}, nil, err
	}

	start := time.Now()
	intermediate := l.Intermediate.Forward(attentionOutput.Tensor)
	out := l.Output.Forward(intermediate, attentionOutput.Tensor)
	l.Backend.PutTensor(intermediate)
	l.Backend.PutTensor(attentionOutput.Tensor)
	LayerDuration.WithLabelValues("ffn", l.Backend.Name()).Observe(time.Since(start).Seconds())

	return hidden.with(out), probs, nil
}

// EncoderOutput is the result of running the layer stack. HiddenStates and
// Attentions are populated only when the config asks for them.
type EncoderOutput struct {
	LastHiddenState States
	// HiddenStates holds the encoder input followed by every layer output.
	HiddenStates []States
	Attentions   []AttentionProbs
}

// Encoder is a stack of Transformer layers.
type Encoder struct {
	Layers             []*Layer
	OutputHiddenStates bool
	OutputAttentions   bool
}

func NewEncoder(config Config, backend device.Backend) (*Encoder, error) {
	layers := make([]*Layer, config.NumHiddenLayers)
	for i := range layers {
		layer, err := NewLayer(config, backend)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		layers[i] = layer
	}
	return &Encoder{
		Layers:             layers,
		OutputHiddenStates: config.OutputHiddenStates,
		OutputAttentions:   config.OutputAttentions,
	}, nil
}

// Forward runs every layer in order. headMask must have one entry per layer;
// entries may be nil. The context is checked between layers.
func (e *Encoder) Forward(ctx context.Context, hidden States, mask [][]float32, headMask [][]float32) (EncoderOutput, error) {
	if headMask != nil && len(headMask) != len(e.Layers) {
		return EncoderOutput{}, fmt.Errorf("%w: head mask has %d layers, encoder has %d", ErrInvalidInput, len(headMask), len(e.Layers))
	}

	var out EncoderOutput
	for i, layer := range e.Layers {
		if err := ctx.Err(); err != nil {
			return EncoderOutput{}, err
		}
		if e.OutputHiddenStates {
			out.HiddenStates = append(out.HiddenStates, hidden)
		}

		var layerHeadMask []float32
		if headMask != nil {
			layerHeadMask = headMask[i]
		}
		next, probs, err := layer.Forward(hidden, mask, layerHeadMask)
		if err != nil {
			return EncoderOutput{}, fmt.Errorf("layer %d: %w", i, err)
		}
		if e.OutputAttentions && probs != nil {
			out.Attentions = append(out.Attentions, *probs)
		}
		hidden = next
	}
	if e.OutputHiddenStates {
		out.HiddenStates = append(out.HiddenStates, hidden)
	}
	out.LastHiddenState = hidden
	return out, nil
}
