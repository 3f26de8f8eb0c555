package nn

import (
	"math/rand"

	"github.com/23skdu/longbow-bert/internal/device"
)

// Initializer fills a parameter buffer.
type Initializer func(rng *rand.Rand, data []float32)

// Normal draws from N(0, std²).
func Normal(std float64) Initializer {
	return func(rng *rand.Rand, data []float32) {
		for i := range data {
			data[i] = float32(rng.NormFloat64() * std)
		}
	}
}

// TruncatedNormal draws from N(0, std²) and redraws anything beyond two standard deviations.
func TruncatedNormal(std float64) Initializer {
	return func(rng *rand.Rand, data []float32) {
		for i := range data {
			v := rng.NormFloat64()
			for v < -2 || v > 2 {
				v = rng.NormFloat64()
			}
			data[i] = float32(v * std)
		}
	}
}

// Constant fills every element with v.
func Constant(v float32) Initializer {
	return func(_ *rand.Rand, data []float32) {
		for i := range data {
			data[i] = v
		}
	}
}

var (
	Zeros = Constant(0)
	Ones  = Constant(1)
)

// Init applies init to t in a single bulk upload.
func Init(t device.Tensor, rng *rand.Rand, init Initializer) {
	r, c := t.Dims()
	data := make([]float32, r*c)
	init(rng, data)
	t.CopyFromFloat32(data)
}
