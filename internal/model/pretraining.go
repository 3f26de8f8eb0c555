package model

import (
	"context"

	"github.com/23skdu/longbow-bert/internal/device"
	"github.com/23skdu/longbow-bert/internal/nn"
)

// PretrainingOutput holds masked-LM and next-sentence scores.
type PretrainingOutput struct {
	// PredictionScores is (masked tokens, vocab), or (batch*seq, vocab) when no
	// positions were given.
	PredictionScores device.Tensor
	// SeqRelationshipScores is (batch, 2).
	SeqRelationshipScores device.Tensor
	HiddenStates          []States
	Attentions            []AttentionProbs
}

// ForPretraining is BERT with masked-LM and next-sentence heads. The decoder
// weight is the word embedding table itself.
type ForPretraining struct {
	Bert *Model
	Cls  *PreTrainingHeads
}

func NewForPretraining(config Config, backend device.Backend, opts ...Option) (*ForPretraining, error) {
	o := buildOptions(opts)
	bert, err := newModel(config, backend)
	if err != nil {
		return nil, err
	}
	cls, err := NewPreTrainingHeads(config, backend)
	if err != nil {
		return nil, err
	}
	m := &ForPretraining{Bert: bert, Cls: cls}
	m.TieWeights()

	rng := o.rng()
	initParameters(m.NamedParameters(), rng, config.InitializerRange)
	bert.seedDropout(rng.Int63())
	return m, nil
}

// TieWeights points the decoder at the current word embedding table.
func (m *ForPretraining) TieWeights() {
	m.Cls.Predictions.Decoder.Weight = m.Bert.InputEmbeddings().Table
}

// SetInputEmbeddings replaces the word embeddings and re-ties the decoder.
func (m *ForPretraining) SetInputEmbeddings(e *nn.Embedding) {
	m.Bert.SetInputEmbeddings(e)
	m.TieWeights()
}

func (m *ForPretraining) SetTraining(training bool) {
	m.Bert.SetTraining(training)
}

// Forward scores the tokens at maskedLMPositions (per sequence, within
// [0, seq)) and the sentence pair relationship.
func (m *ForPretraining) Forward(ctx context.Context, in Inputs, maskedLMPositions [][]int) (*PretrainingOutput, error) {
	ctx, span := tracer.Start(ctx, "ForPretraining.Forward")
	defer span.End()

	out, err := m.Bert.forward(ctx, in)
	if err != nil {
		ForwardErrors.WithLabelValues("pretraining").Inc()
		span.RecordError(err)
		return nil, err
	}
	predictionScores, seqRelationship, err := m.Cls.Forward(out.SequenceOutput, out.PooledOutput, maskedLMPositions)
	if err != nil {
		ForwardErrors.WithLabelValues("pretraining").Inc()
		span.RecordError(err)
		return nil, err
	}
	ForwardTotal.WithLabelValues("pretraining").Inc()

	return &PretrainingOutput{
		PredictionScores:      predictionScores,
		SeqRelationshipScores: seqRelationship,
		HiddenStates:          out.HiddenStates,
		Attentions:            out.Attentions,
	}, nil
}

func (m *ForPretraining) NamedParameters() []Parameter {
	var params []Parameter
	params = append(params, withPrefix("bert.", m.Bert.NamedParameters())...)
	params = append(params, withPrefix("cls.", m.Cls.NamedParameters())...)
	return params
}
