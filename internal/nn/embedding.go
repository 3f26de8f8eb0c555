package nn

import (
	"fmt"

	"github.com/23skdu/longbow-bert/internal/device"
)

// Embedding is a lookup table of shape (num, dim).
type Embedding struct {
	Table device.Tensor
}

func NewEmbedding(backend device.Backend, num, dim int) *Embedding {
	return &Embedding{Table: backend.NewTensor(num, dim, nil)}
}

// Num returns the number of rows in the table.
func (e *Embedding) Num() int {
	n, _ := e.Table.Dims()
	return n
}

// Forward gathers one row per id.
func (e *Embedding) Forward(ids []int) (device.Tensor, error) {
	n := e.Num()
	for i, id := range ids {
		if id < 0 || id >= n {
			return nil, fmt.Errorf("embedding lookup %d at position %d (table size %d): %w", id, i, n, ErrIndexOutOfRange)
		}
	}
	return e.Table.Gather(ids), nil
}
