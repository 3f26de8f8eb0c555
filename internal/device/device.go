package device

// Tensor is a row-major rank-2 float32 array resident on a backend.
// Higher-rank activations are flattened into rows by the caller.
type Tensor interface {
	// Dims returns the dimensions (rows, cols) of the tensor.
	Dims() (int, int)

	// At returns the value at (i, j).
	// This is often slow and should be used for debugging or infrequent access.
	At(i, j int) float32

	// Set sets the value at (i, j).
	Set(i, j int, v float32)

	// Data returns the underlying slice if contiguous on the host (nil for transposed views).
	Data() []float32

	// ToHost copies the data to a Go slice in logical row-major order.
	ToHost() []float32

	// CopyFromFloat32 copies data from a Go slice into the tensor.
	CopyFromFloat32(data []float32)

	// Slice copies rows [i, k) and cols [j, l) into a new tensor.
	Slice(i, k, j, l int) Tensor

	// T returns a transposed view sharing storage.
	T() Tensor

	// Mul performs matrix multiplication: t = a * b
	Mul(a, b Tensor)

	// Add performs element-wise addition: t = t + other
	Add(other Tensor)

	// Scale performs: t = t * val
	Scale(val float32)

	// AddBias adds a bias vector (1xN) to every row.
	AddBias(bias Tensor)

	// Activation functions (In-Place)
	Softmax()
	Gelu()
	Tanh()

	// Apply runs fn over the contiguous storage in-place.
	Apply(fn func(data []float32))

	// LayerNorm performs layer normalization over each row (In-Place).
	LayerNorm(gamma, beta Tensor, eps float32)

	// Gather collects rows based on indices. Returns new Tensor.
	Gather(indices []int) Tensor

	// Linear performs a fused MatMul + BiasAdd: input * weight + bias.
	// bias may be nil.
	Linear(input, weight, bias Tensor) Tensor

	// ExtractTo copies rows into a pre-allocated slice of slices starting at startRow.
	ExtractTo(destination [][]float32, startRow int)
}

// Backend creates tensors and manages device memory.
type Backend interface {
	Name() string
	NewTensor(r, c int, data []float32) Tensor

	// GetTensor gets a zeroed tensor from the pool or creates a new one.
	GetTensor(r, c int) Tensor

	// PutTensor returns a tensor to the pool.
	PutTensor(t Tensor)

	// Synchronize blocks until all queued operations are complete.
	Synchronize()
}
