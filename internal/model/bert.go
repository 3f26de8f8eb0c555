package model

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/23skdu/longbow-bert/internal/device"
	"github.com/23skdu/longbow-bert/internal/nn"
)

var tracer = otel.Tracer("longbow-bert/model")

// MaskBias is the additive bias applied to padded positions.
const MaskBias = -10000.0

// Option customises model construction.
type Option func(*options)

type options struct {
	seed    int64
	hasSeed bool
}

// WithSeed makes weight initialisation and dropout reproducible.
func WithSeed(seed int64) Option {
	return func(o *options) {
		o.seed = seed
		o.hasSeed = true
	}
}

func (o options) rng() *rand.Rand {
	if o.hasSeed {
		return rand.New(rand.NewSource(o.seed))
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Inputs is a rectangular batch for a forward pass. Only InputIDs is required.
type Inputs struct {
	InputIDs [][]int
	// AttentionMask is 1 for real tokens and 0 for padding; nil attends everywhere.
	AttentionMask [][]float32
	TokenTypeIDs  [][]int
	PositionIDs   [][]int
	// HeadMask holds either a single row shared by every layer or one row per
	// layer, each with one gate per head.
	HeadMask [][]float32
}

// ModelOutput carries the encoder results. HiddenStates and Attentions are
// nil unless enabled in the config.
type ModelOutput struct {
	SequenceOutput States
	PooledOutput   device.Tensor
	HiddenStates   []States
	Attentions     []AttentionProbs
}

// Model is the bare BERT encoder with pooler.
type Model struct {
	Config     Config
	Backend    device.Backend
	Embeddings *Embeddings
	Encoder    *Encoder
	Pooler     *Pooler
}

// NewModel builds a BERT model with randomly initialised weights. It fails
// when the config is invalid, including when hidden_size is not a multiple of
// num_attention_heads.
func NewModel(config Config, backend device.Backend, opts ...Option) (*Model, error) {
	o := buildOptions(opts)
	m, err := newModel(config, backend)
	if err != nil {
		return nil, err
	}
	rng := o.rng()
	initParameters(m.NamedParameters(), rng, config.InitializerRange)
	m.seedDropout(rng.Int63())

	log.Debug().
		Int("layers", config.NumHiddenLayers).
		Int("hidden", config.HiddenSize).
		Int("heads", config.NumAttentionHeads).
		Str("backend", backend.Name()).
		Msg("Initialized BERT model")
	return m, nil
}

func newModel(config Config, backend device.Backend) (*Model, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	encoder, err := NewEncoder(config, backend)
	if err != nil {
		return nil, err
	}
	return &Model{
		Config:     config,
		Backend:    backend,
		Embeddings: NewEmbeddings(config, backend),
		Encoder:    encoder,
		Pooler:     NewPooler(config, backend),
	}, nil
}

// ExtendedAttentionMask converts a (batch, seq) 0/1 mask into the additive
// bias (1 - m) * -10000 broadcast over heads and queries.
func ExtendedAttentionMask(mask [][]float32) [][]float32 {
	out := make([][]float32, len(mask))
	for b, row := range mask {
		out[b] = make([]float32, len(row))
		for s, v := range row {
			out[b][s] = (1 - v) * MaskBias
		}
	}
	return out
}

// ExpandHeadMask returns one head mask entry per layer. A nil mask yields nil
// entries; a single row is shared by every layer; otherwise there must be one
// row per layer. Every row needs one gate per head.
func (m *Model) ExpandHeadMask(headMask [][]float32) ([][]float32, error) {
	layers := m.Config.NumHiddenLayers
	out := make([][]float32, layers)
	if headMask == nil {
		return out, nil
	}

	switch len(headMask) {
	case 1:
		for i := range out {
			out[i] = headMask[0]
		}
	case layers:
		copy(out, headMask)
	default:
		return nil, fmt.Errorf("%w: head mask has %d rows, want 1 or %d", ErrInvalidInput, len(headMask), layers)
	}
	for i, row := range out {
		if len(row) != m.Config.NumAttentionHeads {
			return nil, fmt.Errorf("%w: head mask for layer %d has %d entries, want %d", ErrInvalidInput, i, len(row), m.Config.NumAttentionHeads)
		}
	}
	return out, nil
}

// Forward runs embeddings, encoder and pooler.
func (m *Model) Forward(ctx context.Context, in Inputs) (*ModelOutput, error) {
	out, err := m.forward(ctx, in)
	if err != nil {
		ForwardErrors.WithLabelValues("model").Inc()
		return nil, err
	}
	ForwardTotal.WithLabelValues("model").Inc()
	return out, nil
}

func (m *Model) forward(ctx context.Context, in Inputs) (*ModelOutput, error) {
	ctx, span := tracer.Start(ctx, "Model.Forward")
	defer span.End()

	batch, seq, err := rectangular("input_ids", in.InputIDs, -1)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("batch_size", batch),
		attribute.Int("seq_len", seq),
	)

	mask := in.AttentionMask
	if mask == nil {
		mask = make([][]float32, batch)
		for b := range mask {
			mask[b] = make([]float32, seq)
			for s := range mask[b] {
				mask[b][s] = 1
			}
		}
	}
	if len(mask) != batch {
		err := fmt.Errorf("%w: attention_mask has %d rows, input_ids %d", ErrInvalidInput, len(mask), batch)
		span.RecordError(err)
		return nil, err
	}
	extended := ExtendedAttentionMask(mask)

	headMask, err := m.ExpandHeadMask(in.HeadMask)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	start := time.Now()
	embeddingOutput, err := m.Embeddings.Forward(in.InputIDs, in.TokenTypeIDs, in.PositionIDs)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	LayerDuration.WithLabelValues("embeddings", m.Backend.Name()).Observe(time.Since(start).Seconds())

	encoderOutput, err := m.Encoder.Forward(ctx, embeddingOutput, extended, headMask)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	start = time.Now()
	pooled := m.Pooler.Forward(encoderOutput.LastHiddenState)
	LayerDuration.WithLabelValues("pooler", m.Backend.Name()).Observe(time.Since(start).Seconds())
	TokensProcessed.Add(float64(batch * seq))

	return &ModelOutput{
		SequenceOutput: encoderOutput.LastHiddenState,
		PooledOutput:   pooled,
		HiddenStates:   encoderOutput.HiddenStates,
		Attentions:     encoderOutput.Attentions,
	}, nil
}

func (m *Model) dropouts() []*nn.Dropout {
	out := []*nn.Dropout{m.Embeddings.Dropout}
	for _, layer := range m.Encoder.Layers {
		out = append(out,
			layer.Attention.Self.Dropout,
			layer.Attention.Output.Dropout,
			layer.Output.Dropout,
		)
	}
	return out
}

func (m *Model) seedDropout(seed int64) {
	for i, d := range m.dropouts() {
		d.Seed(seed + int64(i))
	}
}

// SetTraining switches every dropout between training and eval mode. Models
// start in eval mode.
func (m *Model) SetTraining(training bool) {
	for _, d := range m.dropouts() {
		d.Train(training)
	}
}

// InputEmbeddings returns the word embedding layer.
func (m *Model) InputEmbeddings() *nn.Embedding {
	return m.Embeddings.WordEmbeddings
}

// SetInputEmbeddings replaces the word embedding layer.
func (m *Model) SetInputEmbeddings(e *nn.Embedding) {
	m.Embeddings.WordEmbeddings = e
}

func (m *Model) NamedParameters() []Parameter {
	var params []Parameter
	params = append(params, withPrefix("embeddings.", m.Embeddings.NamedParameters())...)
	params = append(params, withPrefix("encoder.", m.Encoder.NamedParameters())...)
	params = append(params, linearParams("pooler.dense", m.Pooler.Dense)...)
	return params
}
