package model

import (
	"github.com/23skdu/longbow-bert/internal/device"
)

// States is a (batch, seq, hidden) activation stored as a (batch*seq, hidden)
// tensor. Row b*SeqLen+s holds token s of sequence b.
type States struct {
	Tensor    device.Tensor
	BatchSize int
	SeqLen    int
}

// Shape returns the logical (batch, seq, hidden) dimensions.
func (s States) Shape() (int, int, int) {
	_, h := s.Tensor.Dims()
	return s.BatchSize, s.SeqLen, h
}

// Token returns a copy of the hidden vector for token s of sequence b.
func (s States) Token(b, pos int) []float32 {
	_, h := s.Tensor.Dims()
	row := b*s.SeqLen + pos
	out := make([]float32, h)
	for j := range out {
		out[j] = s.Tensor.At(row, j)
	}
	return out
}

func (s States) with(t device.Tensor) States {
	return States{Tensor: t, BatchSize: s.BatchSize, SeqLen: s.SeqLen}
}

// AttentionProbs is a (batch, heads, seq, seq) probability tensor stored as a
// (batch*heads*seq, seq) tensor. Row ((b*NumHeads)+h)*SeqLen+q holds the
// distribution of query q over keys for head h of sequence b.
type AttentionProbs struct {
	Tensor    device.Tensor
	BatchSize int
	NumHeads  int
	SeqLen    int
}

// Shape returns the logical (batch, heads, query, key) dimensions.
func (a AttentionProbs) Shape() (int, int, int, int) {
	return a.BatchSize, a.NumHeads, a.SeqLen, a.SeqLen
}

// Row returns a copy of the key distribution for one query.
func (a AttentionProbs) Row(b, head, query int) []float32 {
	row := (b*a.NumHeads+head)*a.SeqLen + query
	out := make([]float32, a.SeqLen)
	for j := range out {
		out[j] = a.Tensor.At(row, j)
	}
	return out
}
