package nn

import (
	"math/rand"
	"sync"

	"github.com/23skdu/longbow-bert/internal/device"
)

// Dropout zeroes activations with probability Rate while training and scales
// the survivors by 1/(1-Rate). In eval mode it is the identity.
type Dropout struct {
	Rate float64

	mu       sync.Mutex
	training bool
	rng      *rand.Rand
}

func NewDropout(rate float64) *Dropout {
	return &Dropout{
		Rate: rate,
		rng:  rand.New(rand.NewSource(rand.Int63())),
	}
}

// Train switches between training (stochastic) and eval (identity) mode.
func (d *Dropout) Train(training bool) {
	d.mu.Lock()
	d.training = training
	d.mu.Unlock()
}

// Training reports whether dropout is currently active.
func (d *Dropout) Training() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.training
}

// Seed makes the drop pattern reproducible.
func (d *Dropout) Seed(seed int64) {
	d.mu.Lock()
	d.rng = rand.New(rand.NewSource(seed))
	d.mu.Unlock()
}

func (d *Dropout) active() bool {
	return d.training && d.Rate > 0
}

// Forward applies element-wise dropout in-place and returns its input.
func (d *Dropout) Forward(t device.Tensor) device.Tensor {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.active() {
		return t
	}

	scale := float32(1.0 / (1.0 - d.Rate))
	t.Apply(func(data []float32) {
		for i := range data {
			if d.rng.Float64() < d.Rate {
				data[i] = 0
			} else {
				data[i] *= scale
			}
		}
	})
	return t
}

// PositionScales draws one keep/drop decision per position and returns the
// multiplier for each (0 or 1/(1-Rate)). It returns nil in eval mode.
//
// Attention uses it to drop whole attended tokens: the same multiplier is
// applied to a key column for every query row.
func (d *Dropout) PositionScales(n int) []float32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.active() {
		return nil
	}

	scale := float32(1.0 / (1.0 - d.Rate))
	out := make([]float32, n)
	for i := range out {
		if d.rng.Float64() >= d.Rate {
			out[i] = scale
		}
	}
	return out
}
