package model

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/23skdu/longbow-bert/internal/device"
	"github.com/23skdu/longbow-bert/internal/nn"
)

// SelfAttention is multi-head scaled dot-product attention.
type SelfAttention struct {
	Backend           device.Backend
	NumAttentionHeads int
	AttentionHeadSize int
	AllHeadSize       int
	OutputAttentions  bool

	Query *nn.Linear
	Key   *nn.Linear
	Value *nn.Linear

	Dropout *nn.Dropout
}

func NewSelfAttention(config Config, backend device.Backend) (*SelfAttention, error) {
	if config.NumAttentionHeads <= 0 || config.HiddenSize%config.NumAttentionHeads != 0 {
		return nil, fmt.Errorf("%w: hidden_size %d, num_attention_heads %d", ErrHeadsNotDivisible, config.HiddenSize, config.NumAttentionHeads)
	}
	headSize := config.HiddenSize / config.NumAttentionHeads
	all := headSize * config.NumAttentionHeads

	return &SelfAttention{
		Backend:           backend,
		NumAttentionHeads: config.NumAttentionHeads,
		AttentionHeadSize: headSize,
		AllHeadSize:       all,
		OutputAttentions:  config.OutputAttentions,
		Query:             nn.NewLinear(backend, config.HiddenSize, all, true),
		Key:               nn.NewLinear(backend, config.HiddenSize, all, true),
		Value:             nn.NewLinear(backend, config.HiddenSize, all, true),
		Dropout:           nn.NewDropout(config.AttentionProbsDropoutProb),
	}, nil
}

// Forward attends every token to every other token of its sequence.
//
// mask is the extended attention mask, one additive bias row of length SeqLen
// per sequence, or nil. headMask holds one multiplicative gate per head, or nil.
// Probabilities are returned only when OutputAttentions is set.
func (s *SelfAttention) Forward(hidden States, mask [][]float32, headMask []float32) (States, *AttentionProbs, error) {
	if err := s.checkMasks(hidden, mask, headMask); err != nil {
		return States{}, nil, err
	}
	batch, seq := hidden.BatchSize, hidden.SeqLen
	heads := s.NumAttentionHeads

	queryLayer := s.Query.Forward(hidden.Tensor)
	keyLayer := s.Key.Forward(hidden.Tensor)
	valueLayer := s.Value.Forward(hidden.Tensor)
	defer func() {
		s.Backend.PutTensor(queryLayer)
		s.Backend.PutTensor(keyLayer)
		s.Backend.PutTensor(valueLayer)
	}()

	contextLayer := s.Backend.NewTensor(batch*seq, s.AllHeadSize, nil)
	var probs device.Tensor
	if s.OutputAttentions {
		probs = s.Backend.NewTensor(batch*heads*seq, seq, nil)
	}

	// Keep decisions are drawn before fan-out so the pattern does not depend
	// on goroutine scheduling.
	keep := make([][]float32, batch*heads)
	for i := range keep {
		keep[i] = s.Dropout.PositionScales(seq)
	}

	var wg sync.WaitGroup
	for b := 0; b < batch; b++ {
		for h := 0; h < heads; h++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				var gate float32 = 1
				if headMask != nil {
					gate = headMask[h]
				}
				s.attendHead(queryLayer, keyLayer, valueLayer, contextLayer, probs, mask, keep[b*heads+h], gate, b, h, seq)
			}()
		}
	}
	wg.Wait()

	out := hidden.with(contextLayer)
	if probs == nil {
		return out, nil, nil
	}
	return out, &AttentionProbs{Tensor: probs, BatchSize: batch, NumHeads: heads, SeqLen: seq}, nil
}

// Scores returns the scaled, mask-biased attention scores before softmax in the
// same layout as AttentionProbs.
func (s *SelfAttention) Scores(hidden States, mask [][]float32) (*AttentionProbs, error) {
	if err := s.checkMasks(hidden, mask, nil); err != nil {
		return nil, err
	}
	batch, seq := hidden.BatchSize, hidden.SeqLen
	heads := s.NumAttentionHeads

	queryLayer := s.Query.Forward(hidden.Tensor)
	keyLayer := s.Key.Forward(hidden.Tensor)
	defer func() {
		s.Backend.PutTensor(queryLayer)
		s.Backend.PutTensor(keyLayer)
	}()

	out := s.Backend.NewTensor(batch*heads*seq, seq, nil)
	dst := out.Data()
	for b := 0; b < batch; b++ {
		for h := 0; h < heads; h++ {
			scores := s.scores(queryLayer, keyLayer, mask, b, h, seq)
			base := (b*heads + h) * seq * seq
			copy(dst[base:base+seq*seq], scores.Data())
			s.Backend.PutTensor(scores)
		}
	}
	return &AttentionProbs{Tensor: out, BatchSize: batch, NumHeads: heads, SeqLen: seq}, nil
}

func (s *SelfAttention) checkMasks(hidden States, mask [][]float32, headMask []float32) error {
	if mask != nil {
		if len(mask) != hidden.BatchSize {
			return fmt.Errorf("%w: attention mask has %d rows, batch is %d", ErrInvalidInput, len(mask), hidden.BatchSize)
		}
		for i, row := range mask {
			if len(row) != hidden.SeqLen {
				return fmt.Errorf("%w: attention mask row %d has length %d, want %d", ErrInvalidInput, i, len(row), hidden.SeqLen)
			}
		}
	}
	if headMask != nil && len(headMask) != s.NumAttentionHeads {
		return fmt.Errorf("%w: head mask has %d entries, model has %d heads", ErrInvalidInput, len(headMask), s.NumAttentionHeads)
	}
	return nil
}

// scores computes q·kᵀ/sqrt(d) + mask for head h of sequence b.
func (s *SelfAttention) scores(queryLayer, keyLayer device.Tensor, mask [][]float32, b, h, seq int) device.Tensor {
	start := b * seq
	col := h * s.AttentionHeadSize

	seqQ := queryLayer.Slice(start, start+seq, col, col+s.AttentionHeadSize)
	seqK := keyLayer.Slice(start, start+seq, col, col+s.AttentionHeadSize)

	attentionScores := s.Backend.GetTensor(seq, seq)
	attentionScores.Mul(seqQ, seqK.T())
	attentionScores.Scale(float32(1.0 / math.Sqrt(float64(s.AttentionHeadSize))))
	if mask != nil {
		attentionScores.AddBias(s.Backend.NewTensor(1, seq, mask[b]))
	}

	s.Backend.PutTensor(seqQ)
	s.Backend.PutTensor(seqK)
	return attentionScores
}

func (s *SelfAttention) attendHead(queryLayer, keyLayer, valueLayer, contextLayer, probs device.Tensor, mask [][]float32, keep []float32, gate float32, b, h, seq int) {
	attentionScores := s.scores(queryLayer, keyLayer, mask, b, h, seq)
	attentionScores.Softmax()

	// Dropout removes whole attended tokens: one decision per key column.
	if keep != nil {
		attentionScores.Apply(func(data []float32) {
			for i := range data {
				data[i] *= keep[i%seq]
			}
		})
	}
	if gate != 1 {
		attentionScores.Scale(gate)
	}

	if probs != nil {
		base := (b*s.NumAttentionHeads + h) * seq * seq
		copy(probs.Data()[base:base+seq*seq], attentionScores.Data())
	}

	start := b * seq
	col := h * s.AttentionHeadSize
	seqV := valueLayer.Slice(start, start+seq, col, col+s.AttentionHeadSize)
	seqContext := s.Backend.GetTensor(seq, s.AttentionHeadSize)
	seqContext.Mul(attentionScores, seqV)

	dst := contextLayer.Data()
	src := seqContext.Data()
	for i := 0; i < seq; i++ {
		off := (start+i)*s.AllHeadSize + col
		copy(dst[off:off+s.AttentionHeadSize], src[i*s.AttentionHeadSize:(i+1)*s.AttentionHeadSize])
	}

	s.Backend.PutTensor(attentionScores)
	s.Backend.PutTensor(seqContext)
	s.Backend.PutTensor(seqV)
}

// SelfOutput projects the attention context and adds the residual.
type SelfOutput struct {
	Dense     *nn.Linear
	LayerNorm *nn.LayerNorm
	Dropout   *nn.Dropout
}

func NewSelfOutput(config Config, backend device.Backend) *SelfOutput {
	return &SelfOutput{
		Dense:     nn.NewLinear(backend, config.HiddenSize, config.HiddenSize, true),
		LayerNorm: nn.NewLayerNorm(backend, config.HiddenSize, 1e-12),
		Dropout:   nn.NewDropout(config.HiddenDropoutProb),
	}
}

func (o *SelfOutput) Forward(hiddenStates, inputTensor device.Tensor) device.Tensor {
	hiddenStates = o.Dense.Forward(hiddenStates)
	hiddenStates = o.Dropout.Forward(hiddenStates)
	hiddenStates.Add(inputTensor)
	return o.LayerNorm.Forward(hiddenStates)
}

// Attention is self-attention followed by its output projection.
type Attention struct {
	Backend device.Backend
	Self    *SelfAttention
	Output  *SelfOutput
}

func NewAttention(config Config, backend device.Backend) (*Attention, error) {
	self, err := NewSelfAttention(config, backend)
	if err != nil {
		return nil, err
	}
	return &Attention{
		Backend: backend,
		Self:    self,
		Output:  NewSelfOutput(config, backend),
	}, nil
}

func (a *Attention) Forward(hidden States, mask [][]float32, headMask []float32) (States, *AttentionProbs, error) {
	start := time.Now()
	selfOutput, probs, err := a.Self.Forward(hidden, mask, headMask)
	if err != nil {
		return States{}, nil, err
	}
	out := a.Output.Forward(selfOutput.Tensor, hidden.Tensor)
	a.Backend.PutTensor(selfOutput.Tensor)
	LayerDuration.WithLabelValues("attention", a.Backend.Name()).Observe(time.Since(start).Seconds())
	return hidden.with(out), probs, nil
}
