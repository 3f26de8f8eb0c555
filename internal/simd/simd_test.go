package simd

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVecAdd(t *testing.T) {
	dst := []float32{1, 2, 3, 4, 5}
	src := []float32{10, 20, 30, 40, 50}

	VecAdd(dst, src)

	require.Equal(t, []float32{11, 22, 33, 44, 55}, dst)
}

func TestVecAddScaled(t *testing.T) {
	dst := []float32{1, 2, 3, 4, 5}
	src := []float32{10, 20, 30, 40, 50}

	VecAddScaled(dst, src, 0.5)

	require.Equal(t, []float32{6, 12, 18, 24, 30}, dst)
}

func TestDotProduct(t *testing.T) {
	a := []float32{1, 2, 3, 4, 5}
	b := []float32{2, 3, 4, 5, 6}
	// 2 + 6 + 12 + 20 + 30 = 70
	require.Equal(t, float32(70), DotProduct(a, b))
}

func TestSoftmax(t *testing.T) {
	row := []float32{1, 2, 3}
	Softmax(row)

	var sum float32
	for _, v := range row {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
	assert.InDelta(t, 0.09003057, row[0], 1e-6)
	assert.InDelta(t, 0.24472847, row[1], 1e-6)
	assert.InDelta(t, 0.66524096, row[2], 1e-6)

	t.Run("LargeNegativeBias", func(t *testing.T) {
		row := []float32{0.5, 0.2 - 10000, 0.1 - 10000}
		Softmax(row)
		assert.InDelta(t, 1.0, row[0], 1e-6)
		assert.InDelta(t, 0.0, row[1], 1e-6)
		assert.InDelta(t, 0.0, row[2], 1e-6)
	})

	t.Run("UniformWhenAllMasked", func(t *testing.T) {
		row := []float32{-10000, -10000, -10000, -10000}
		Softmax(row)
		for _, v := range row {
			assert.InDelta(t, 0.25, v, 1e-6)
		}
	})
}

func TestGelu(t *testing.T) {
	data := []float32{-1, 0, 1, 2}
	Gelu(data)

	expected := []float64{-0.15865526, 0, 0.84134474, 1.95449974}
	for i, v := range expected {
		assert.InDelta(t, v, data[i], 1e-6, "index %d", i)
	}

	approx := []float32{-1, 0, 1, 2}
	GeluTanh(approx)
	for i, v := range expected {
		assert.InDelta(t, v, approx[i], 1e-3, "index %d", i)
	}
}

func TestActivations(t *testing.T) {
	assert.InDelta(t, math.Tanh(0.5), Tanh(0.5), 1e-6)
	assert.InDelta(t, 0.5, Sigmoid(0), 1e-7)
	assert.Equal(t, float32(0), Exp(-100))
	assert.Equal(t, float32(math.MaxFloat32), Exp(100))
}

func TestMeanVariance(t *testing.T) {
	mean, variance := MeanVariance([]float32{1, 2, 3, 4})
	assert.InDelta(t, 2.5, mean, 1e-7)
	assert.InDelta(t, 1.25, variance, 1e-7)

	mean, variance = MeanVariance(nil)
	assert.Zero(t, mean)
	assert.Zero(t, variance)
}
