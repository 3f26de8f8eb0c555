package model

import (
	"fmt"

	"github.com/23skdu/longbow-bert/internal/device"
	"github.com/23skdu/longbow-bert/internal/nn"
)

// Pooler summarises each sequence from its first ([CLS]) token.
type Pooler struct {
	Dense *nn.Linear
}

func NewPooler(config Config, backend device.Backend) *Pooler {
	return &Pooler{Dense: nn.NewLinear(backend, config.HiddenSize, config.HiddenSize, true)}
}

// Forward returns a (batch, hidden) tensor.
func (p *Pooler) Forward(hidden States) device.Tensor {
	indices := make([]int, hidden.BatchSize)
	for b := range indices {
		indices[b] = b * hidden.SeqLen
	}
	clsStack := hidden.Tensor.Gather(indices)
	result := p.Dense.Forward(clsStack)
	result.Tanh()
	return result
}

// PredictionHeadTransform is dense, activation, then LayerNorm.
type PredictionHeadTransform struct {
	Dense      *nn.Linear
	Activation nn.Activation
	LayerNorm  *nn.LayerNorm
	act        func(device.Tensor)
}

func NewPredictionHeadTransform(config Config, backend device.Backend) (*PredictionHeadTransform, error) {
	act, err := config.Activation()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return &PredictionHeadTransform{
		Dense:      nn.NewLinear(backend, config.HiddenSize, config.HiddenSize, true),
		Activation: act,
		LayerNorm:  nn.NewLayerNorm(backend, config.HiddenSize, float32(config.LayerNormEps)),
		act:        act.Func(),
	}, nil
}

func (t *PredictionHeadTransform) Forward(hiddenStates device.Tensor) device.Tensor {
	hiddenStates = t.Dense.Forward(hiddenStates)
	t.act(hiddenStates)
	return t.LayerNorm.Forward(hiddenStates)
}

// LMPredictionHead scores every vocabulary entry. The decoder has no bias of
// its own; its weight is meant to be the word embedding table, and Bias is a
// separate output-only vector.
type LMPredictionHead struct {
	Backend   device.Backend
	Transform *PredictionHeadTransform
	Decoder   *nn.Linear
	Bias      device.Tensor
}

func NewLMPredictionHead(config Config, backend device.Backend) (*LMPredictionHead, error) {
	transform, err := NewPredictionHeadTransform(config, backend)
	if err != nil {
		return nil, err
	}
	return &LMPredictionHead{
		Backend:   backend,
		Transform: transform,
		Decoder:   nn.NewLinear(backend, config.HiddenSize, config.VocabSize, false),
		Bias:      backend.NewTensor(1, config.VocabSize, nil),
	}, nil
}

// FlatMaskedOffsets maps per-sequence positions to rows of the flattened
// (batch*seq, hidden) states: position + batch_index*seqLen.
func FlatMaskedOffsets(positions [][]int, seqLen int) ([]int, error) {
	var offsets []int
	for b, row := range positions {
		for _, p := range row {
			if p < 0 || p >= seqLen {
				return nil, fmt.Errorf("%w: masked position %d in sequence %d outside [0, %d)", ErrInvalidInput, p, b, seqLen)
			}
			offsets = append(offsets, p+b*seqLen)
		}
	}
	return offsets, nil
}

// Forward returns vocabulary logits. When maskedPositions is non-nil only the
// listed tokens are scored and the result has one row per position, in order;
// otherwise every token is scored.
func (p *LMPredictionHead) Forward(hidden States, maskedPositions [][]int) (device.Tensor, error) {
	hiddenStates := hidden.Tensor
	if maskedPositions != nil {
		if len(maskedPositions) != hidden.BatchSize {
			return nil, fmt.Errorf("%w: masked positions have %d rows, batch is %d", ErrInvalidInput, len(maskedPositions), hidden.BatchSize)
		}
		offsets, err := FlatMaskedOffsets(maskedPositions, hidden.SeqLen)
		if err != nil {
			return nil, err
		}
		if len(offsets) == 0 {
			return nil, fmt.Errorf("%w: no masked positions", ErrInvalidInput)
		}
		hiddenStates = hiddenStates.Gather(offsets)
		defer p.Backend.PutTensor(hiddenStates)
	}

	transformed := p.Transform.Forward(hiddenStates)
	logits := p.Decoder.Forward(transformed)
	logits.AddBias(p.Bias)
	p.Backend.PutTensor(transformed)
	return logits, nil
}

// PreTrainingHeads pairs the masked-LM head with next-sentence prediction.
type PreTrainingHeads struct {
	Predictions     *LMPredictionHead
	SeqRelationship *nn.Linear
}

func NewPreTrainingHeads(config Config, backend device.Backend) (*PreTrainingHeads, error) {
	predictions, err := NewLMPredictionHead(config, backend)
	if err != nil {
		return nil, err
	}
	return &PreTrainingHeads{
		Predictions:     predictions,
		SeqRelationship: nn.NewLinear(backend, config.HiddenSize, 2, true),
	}, nil
}

// Forward returns (prediction scores, seq relationship scores).
func (h *PreTrainingHeads) Forward(sequenceOutput States, pooledOutput device.Tensor, maskedPositions [][]int) (device.Tensor, device.Tensor, error) {
	predictionScores, err := h.Predictions.Forward(sequenceOutput, maskedPositions)
	if err != nil {
		return nil, nil, err
	}
	return predictionScores, h.SeqRelationship.Forward(pooledOutput), nil
}
