package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCPUBackend_TensorOps(t *testing.T) {
	backend := NewCPUBackend()

	t.Run("Add", func(t *testing.T) {
		a := backend.NewTensor(2, 2, []float32{1, 2, 3, 4})
		b := backend.NewTensor(2, 2, []float32{10, 20, 30, 40})

		a.Add(b)

		require.Equal(t, []float32{11, 22, 33, 44}, a.ToHost())
	})

	t.Run("Mul", func(t *testing.T) {
		// A: 2x3, B: 3x2 -> C: 2x2
		a := backend.NewTensor(2, 3, []float32{
			1, 2, 3,
			4, 5, 6,
		})
		b := backend.NewTensor(3, 2, []float32{
			7, 8,
			9, 10,
			11, 12,
		})

		c := backend.NewTensor(2, 2, nil)
		c.Mul(a, b)

		// 1*7 + 2*9 + 3*11 = 58, 1*8 + 2*10 + 3*12 = 64
		// 4*7 + 5*9 + 6*11 = 139, 4*8 + 5*10 + 6*12 = 154
		require.Equal(t, []float32{58, 64, 139, 154}, c.ToHost())
	})

	t.Run("MulTransposedView", func(t *testing.T) {
		// W is stored (out=2, in=3); x * W^T must read the view without copying.
		x := backend.NewTensor(1, 3, []float32{1, 2, 3})
		w := backend.NewTensor(2, 3, []float32{
			1, 0, 1,
			0, 1, 0,
		})

		out := backend.NewTensor(1, 2, nil)
		out.Mul(x, w.T())
		require.Equal(t, []float32{4, 2}, out.ToHost())

		// Mutating the source is visible through the view.
		w.Set(1, 1, 10)
		out.Mul(x, w.T())
		require.Equal(t, []float32{4, 20}, out.ToHost())
	})

	t.Run("Scale", func(t *testing.T) {
		a := backend.NewTensor(2, 2, []float32{1, 2, 3, 4})
		a.Scale(2.0)
		require.Equal(t, []float32{2, 4, 6, 8}, a.ToHost())
	})

	t.Run("AddBias", func(t *testing.T) {
		a := backend.NewTensor(2, 2, []float32{1, 2, 3, 4})
		a.AddBias(backend.NewTensor(1, 2, []float32{10, 100}))
		require.Equal(t, []float32{11, 102, 13, 104}, a.ToHost())
	})

	t.Run("LayerNorm", func(t *testing.T) {
		a := backend.NewTensor(1, 4, []float32{1, 2, 3, 4})
		gamma := backend.NewTensor(1, 4, []float32{1, 1, 1, 1})
		beta := backend.NewTensor(1, 4, []float32{0, 0, 0, 0})

		// Mean = 2.5, Variance = 1.25, StdDev ≈ 1.11803
		a.LayerNorm(gamma, beta, 1e-12)

		expected := []float32{-1.3416407, -0.4472136, 0.4472136, 1.3416407}
		for i, v := range a.ToHost() {
			assert.InDelta(t, expected[i], v, 1e-5, "index %d", i)
		}
	})

	t.Run("Gather", func(t *testing.T) {
		a := backend.NewTensor(3, 2, []float32{1, 2, 3, 4, 5, 6})
		g := a.Gather([]int{2, 0, 2})
		r, c := g.Dims()
		require.Equal(t, 3, r)
		require.Equal(t, 2, c)
		require.Equal(t, []float32{5, 6, 1, 2, 5, 6}, g.ToHost())

		require.Panics(t, func() { a.Gather([]int{3}) })
	})

	t.Run("Slice", func(t *testing.T) {
		a := backend.NewTensor(3, 3, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9})
		require.Equal(t, []float32{4, 5, 6, 7, 8, 9}, a.Slice(1, 3, 0, 3).ToHost())
		require.Equal(t, []float32{2, 5}, a.Slice(0, 2, 1, 2).ToHost())
	})

	t.Run("Softmax", func(t *testing.T) {
		a := backend.NewTensor(2, 2, []float32{0, 0, 1, 1})
		a.Softmax()
		for _, v := range a.ToHost() {
			assert.InDelta(t, 0.5, v, 1e-6)
		}
	})

	t.Run("Linear", func(t *testing.T) {
		x := backend.NewTensor(2, 2, []float32{1, 2, 3, 4})
		w := backend.NewTensor(2, 1, []float32{1, 1})
		b := backend.NewTensor(1, 1, []float32{0.5})
		out := x.Linear(x, w, b)
		require.Equal(t, []float32{3.5, 7.5}, out.ToHost())
	})

	t.Run("ShapeMismatchPanics", func(t *testing.T) {
		a := backend.NewTensor(2, 2, nil)
		b := backend.NewTensor(3, 2, nil)
		require.Panics(t, func() { a.Add(b) })
		require.Panics(t, func() { a.Mul(a, b) })
	})

	t.Run("Pooling", func(t *testing.T) {
		t1 := backend.GetTensor(10, 10)
		t1.Set(0, 0, 123)
		backend.PutTensor(t1)

		t2 := backend.GetTensor(10, 10)
		require.Equal(t, float32(0), t2.At(0, 0), "pooled tensor must be zeroed")
	})

	t.Run("ExtractTo", func(t *testing.T) {
		a := backend.NewTensor(2, 2, []float32{1, 2, 3, 4})
		dst := make([][]float32, 3)
		a.ExtractTo(dst, 1)
		require.Nil(t, dst[0])
		require.Equal(t, []float32{1, 2}, dst[1])
		require.Equal(t, []float32{3, 4}, dst[2])
	})
}
