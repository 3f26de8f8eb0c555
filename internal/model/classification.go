package model

import (
	"context"
	"fmt"

	"github.com/23skdu/longbow-bert/internal/device"
	"github.com/23skdu/longbow-bert/internal/nn"
)

// Labels are the supervision targets for ForSequenceClassification. Classes
// is used for single-label classification; Targets holds one row per sequence
// for regression and multi-label classification.
type Labels struct {
	Classes []int
	Targets [][]float32
}

// ClassificationOutput holds the logits and, when labels were given, the loss.
type ClassificationOutput struct {
	Loss *float32
	// Logits is (batch, num_labels).
	Logits       device.Tensor
	HiddenStates []States
	Attentions   []AttentionProbs
}

// ForSequenceClassification is BERT with a linear classifier on the pooled output.
type ForSequenceClassification struct {
	Bert        *Model
	Dropout     *nn.Dropout
	Classifier  *nn.Linear
	NumLabels   int
	ProblemType string
}

func NewForSequenceClassification(config Config, backend device.Backend, opts ...Option) (*ForSequenceClassification, error) {
	if config.NumLabels <= 0 {
		return nil, fmt.Errorf("%w: num_labels must be positive for classification, got %d", ErrInvalidConfig, config.NumLabels)
	}
	o := buildOptions(opts)
	bert, err := newModel(config, backend)
	if err != nil {
		return nil, err
	}
	m := &ForSequenceClassification{
		Bert:        bert,
		Dropout:     nn.NewDropout(config.ClassifierDropoutProb()),
		Classifier:  nn.NewLinear(backend, config.HiddenSize, config.NumLabels, true),
		NumLabels:   config.NumLabels,
		ProblemType: config.ResolvedProblemType(),
	}

	rng := o.rng()
	initParameters(m.NamedParameters(), rng, config.InitializerRange)
	seed := rng.Int63()
	bert.seedDropout(seed)
	m.Dropout.Seed(seed - 1)
	return m, nil
}

func (m *ForSequenceClassification) SetTraining(training bool) {
	m.Bert.SetTraining(training)
	m.Dropout.Train(training)
}

// Forward classifies each sequence. The loss is computed only when labels is
// non-nil, using MSE for regression, cross-entropy for single-label and
// BCE-with-logits for multi-label classification.
func (m *ForSequenceClassification) Forward(ctx context.Context, in Inputs, labels *Labels) (*ClassificationOutput, error) {
	ctx, span := tracer.Start(ctx, "ForSequenceClassification.Forward")
	defer span.End()

	out, err := m.Bert.forward(ctx, in)
	if err != nil {
		ForwardErrors.WithLabelValues("classification").Inc()
		span.RecordError(err)
		return nil, err
	}

	pooled := m.Dropout.Forward(out.PooledOutput)
	logits := m.Classifier.Forward(pooled)

	result := &ClassificationOutput{
		Logits:       logits,
		HiddenStates: out.HiddenStates,
		Attentions:   out.Attentions,
	}
	if labels != nil {
		loss, err := m.loss(logits, *labels)
		if err != nil {
			ForwardErrors.WithLabelValues("classification").Inc()
			span.RecordError(err)
			return nil, err
		}
		result.Loss = &loss
	}
	ForwardTotal.WithLabelValues("classification").Inc()
	return result, nil
}

func (m *ForSequenceClassification) loss(logits device.Tensor, labels Labels) (float32, error) {
	batch, _ := logits.Dims()
	flat := logits.ToHost()

	switch m.ProblemType {
	case ProblemRegression:
		targets, err := flattenTargets(labels.Targets, batch, m.NumLabels)
		if err != nil {
			return 0, err
		}
		return nn.MSELoss(flat, targets)
	case ProblemMultiLabelClassification:
		targets, err := flattenTargets(labels.Targets, batch, m.NumLabels)
		if err != nil {
			return 0, err
		}
		return nn.BCEWithLogitsLoss(flat, targets)
	default:
		if len(labels.Classes) != batch {
			return 0, fmt.Errorf("%w: %d class labels for batch of %d", ErrInvalidInput, len(labels.Classes), batch)
		}
		loss, err := nn.CrossEntropyLoss(flat, m.NumLabels, labels.Classes)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		return loss, nil
	}
}

func flattenTargets(targets [][]float32, batch, width int) ([]float32, error) {
	if len(targets) != batch {
		return nil, fmt.Errorf("%w: %d target rows for batch of %d", ErrInvalidInput, len(targets), batch)
	}
	out := make([]float32, 0, batch*width)
	for i, row := range targets {
		if len(row) != width {
			return nil, fmt.Errorf("%w: target row %d has %d values, want %d", ErrInvalidInput, i, len(row), width)
		}
		out = append(out, row...)
	}
	return out, nil
}

func (m *ForSequenceClassification) NamedParameters() []Parameter {
	var params []Parameter
	params = append(params, withPrefix("bert.", m.Bert.NamedParameters())...)
	params = append(params, linearParams("classifier", m.Classifier)...)
	return params
}
