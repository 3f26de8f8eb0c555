package device

import (
	"log"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/23skdu/longbow-bert/internal/simd"
)

// ensure interface compliance
var _ Backend = (*CPUBackend)(nil)
var _ Tensor = (*CPUTensor)(nil)

// numWorkers defines the default parallelism for CPU operations
var numWorkers = runtime.NumCPU()

// Workers reports the parallelism used by CPU kernels.
func Workers() int {
	return numWorkers
}

type CPUBackend struct {
	pool sync.Pool
}

func NewCPUBackend() *CPUBackend {
	return &CPUBackend{
		pool: sync.Pool{
			New: func() interface{} {
				return &CPUTensor{}
			},
		},
	}
}

func (b *CPUBackend) Name() string {
	return "CPU"
}

func (b *CPUBackend) NewTensor(r, c int, data []float32) Tensor {
	size := r * c
	t := &CPUTensor{
		backend: b,
		rows:    r,
		cols:    c,
	}

	t.data = make([]float32, size)
	if data != nil {
		if len(data) != size {
			log.Panicf("NewTensor: provided data length %d does not match dimensions %dx%d", len(data), r, c)
		}
		copy(t.data, data)
	}

	return t
}

func (b *CPUBackend) GetTensor(r, c int) Tensor {
	v := b.pool.Get()
	ct, ok := v.(*CPUTensor)
	if !ok || ct == nil {
		ct = &CPUTensor{}
	}

	ct.backend = b
	ct.rows = r
	ct.cols = c
	ct.trans = false
	size := r * c
	if cap(ct.data) < size {
		poolMisses.Inc()
		ct.data = make([]float32, size)
	} else {
		poolHits.Inc()
		ct.data = ct.data[:size]
		for i := range ct.data {
			ct.data[i] = 0
		}
	}
	return ct
}

func (b *CPUBackend) PutTensor(t Tensor) {
	ct, ok := t.(*CPUTensor)
	if !ok || ct == nil {
		return // Don't pool foreign tensors
	}

	ct.rows = 0
	ct.cols = 0
	ct.trans = false
	// Data is zeroed when retrieved by GetTensor
	b.pool.Put(ct)
}

func (b *CPUBackend) Synchronize() {
	// CPU is always synchronous
}

type CPUTensor struct {
	backend *CPUBackend
	data    []float32
	rows    int
	cols    int
	trans   bool // Transposed view flag
}

func (t *CPUTensor) Dims() (int, int) {
	if t.trans {
		return t.cols, t.rows
	}
	return t.rows, t.cols
}

func (t *CPUTensor) At(i, j int) float32 {
	if t.trans {
		// Logical (i, j) -> Physical (j, i)
		return t.data[j*t.cols+i]
	}
	return t.data[i*t.cols+j]
}

func (t *CPUTensor) Set(i, j int, v float32) {
	if t.trans {
		t.data[j*t.cols+i] = v
	} else {
		t.data[i*t.cols+j] = v
	}
}

func (t *CPUTensor) Data() []float32 {
	// If transposed, data is not contiguous in logical order
	if t.trans {
		return nil
	}
	return t.data
}

func (t *CPUTensor) ToHost() []float32 {
	rows, cols := t.Dims()
	out := make([]float32, rows*cols)
	if !t.trans {
		copy(out, t.data)
		return out
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[i*cols+j] = t.At(i, j)
		}
	}
	return out
}

func (t *CPUTensor) CopyFromFloat32(data []float32) {
	if len(data) != len(t.data) {
		log.Panicf("CopyFromFloat32: size mismatch. Target: %d, Source: %d", len(t.data), len(data))
	}
	if !t.trans {
		copy(t.data, data)
		return
	}
	rows, cols := t.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			t.Set(i, j, data[i*cols+j])
		}
	}
}

func (t *CPUTensor) Slice(i, k, j, l int) Tensor {
	sliceRows := k - i
	sliceCols := l - j

	if sliceRows <= 0 || sliceCols <= 0 {
		log.Panicf("Slice: invalid dimensions [%d:%d, %d:%d]", i, k, j, l)
	}

	// This is a copy, not a view.
	out := t.backend.NewTensor(sliceRows, sliceCols, nil).(*CPUTensor)
	if !t.trans && j == 0 && l == t.cols {
		copy(out.data, t.data[i*t.cols:k*t.cols])
		return out
	}
	for rowIdx := 0; rowIdx < sliceRows; rowIdx++ {
		for colIdx := 0; colIdx < sliceCols; colIdx++ {
			out.Set(rowIdx, colIdx, t.At(i+rowIdx, j+colIdx))
		}
	}
	return out
}

func (t *CPUTensor) T() Tensor {
	return &CPUTensor{
		backend: t.backend,
		data:    t.data, // Share data
		rows:    t.rows,
		cols:    t.cols,
		trans:   !t.trans,
	}
}

// general exposes the physical storage as a BLAS matrix plus the transpose flag
// needed to read it in logical order.
func (t *CPUTensor) general() (blas32.General, blas.Transpose) {
	g := blas32.General{Rows: t.rows, Cols: t.cols, Stride: t.cols, Data: t.data}
	if t.trans {
		return g, blas.Trans
	}
	return g, blas.NoTrans
}

// Mul computes t = a * b with a single SGEMM. Transposed views are handed to
// BLAS as transpose flags, so tied or transposed weights are never copied.
func (t *CPUTensor) Mul(a, b Tensor) {
	ma, ok1 := a.(*CPUTensor)
	mb, ok2 := b.(*CPUTensor)

	if !ok1 || !ok2 {
		log.Panic("Mixed backend Mul not supported")
	}

	ar, ac := ma.Dims()
	br, bc := mb.Dims()

	if ac != br {
		log.Panicf("Mul: dimension mismatch. A cols (%d) != B rows (%d)", ac, br)
	}

	tr, tc := t.Dims()
	if tr != ar || tc != bc {
		log.Panicf("Mul: result tensor dimension mismatch. Expected %dx%d, got %dx%d", ar, bc, tr, tc)
	}
	if t.trans {
		log.Panic("Mul: result must not be a transposed view")
	}
	if ar == 0 || bc == 0 {
		return
	}
	if ac == 0 {
		for i := range t.data {
			t.data[i] = 0
		}
		return
	}

	ga, ta := ma.general()
	gb, tb := mb.general()
	gc := blas32.General{Rows: tr, Cols: tc, Stride: tc, Data: t.data}
	blas32.Gemm(ta, tb, 1, ga, gb, 0, gc)
}

func (t *CPUTensor) Add(other Tensor) {
	ot, ok := other.(*CPUTensor)
	if !ok {
		log.Panic("Mixed backend Add not supported")
	}

	tr, tc := t.Dims()
	or, oc := ot.Dims()

	if tr != or || tc != oc {
		log.Panicf("Add: dimension mismatch. Target: %dx%d, Other: %dx%d", tr, tc, or, oc)
	}

	if !t.trans && !ot.trans {
		simd.VecAdd(t.data, ot.data)
		return
	}
	for i := 0; i < tr; i++ {
		for j := 0; j < tc; j++ {
			t.Set(i, j, t.At(i, j)+ot.At(i, j))
		}
	}
}

func (t *CPUTensor) AddBias(bias Tensor) {
	bt, ok := bias.(*CPUTensor)
	if !ok {
		log.Panic("Mixed backend AddBias")
	}
	if t.trans {
		log.Panic("AddBias not supported on transposed tensor views directly")
	}

	r, c := t.Dims()
	biasData := bt.ToHost()
	if len(biasData) != c {
		log.Panicf("AddBias: bias length %d mismatch with tensor columns %d", len(biasData), c)
	}

	for i := 0; i < r; i++ {
		simd.VecAdd(t.data[i*c:(i+1)*c], biasData)
	}
}

func (t *CPUTensor) Scale(val float32) {
	simd.VecScale(t.data, val)
}

func (t *CPUTensor) Gather(indices []int) Tensor {
	r, c := t.Dims()
	outData := make([]float32, len(indices)*c)

	for i, idx := range indices {
		if idx < 0 || idx >= r {
			log.Panicf("Gather index %d out of bounds [0, %d)", idx, r)
		}
		if !t.trans {
			copy(outData[i*c:(i+1)*c], t.data[idx*c:(idx+1)*c])
			continue
		}
		for j := 0; j < c; j++ {
			outData[i*c+j] = t.At(idx, j)
		}
	}

	return t.backend.NewTensor(len(indices), c, outData)
}

func (t *CPUTensor) Softmax() {
	if t.trans {
		log.Panic("Softmax not supported on transposed tensor views directly")
	}
	r, c := t.Dims()
	for i := 0; i < r; i++ {
		simd.Softmax(t.data[i*c : (i+1)*c])
	}
}

func (t *CPUTensor) Gelu() {
	t.Apply(simd.Gelu)
}

func (t *CPUTensor) Tanh() {
	t.Apply(func(data []float32) {
		for i, v := range data {
			data[i] = simd.Tanh(v)
		}
	})
}

func (t *CPUTensor) Apply(fn func(data []float32)) {
	if t.trans {
		log.Panic("Apply not supported on transposed tensor views directly")
	}
	fn(t.data)
}

func (t *CPUTensor) LayerNorm(gamma, beta Tensor, eps float32) {
	if t.trans {
		log.Panic("LayerNorm not supported on transposed tensor views directly")
	}

	gammaData := gamma.ToHost()
	betaData := beta.ToHost()

	r, c := t.Dims()
	if len(gammaData) < c || len(betaData) < c {
		log.Panicf("LayerNorm params dim mismatch: gamma %d, beta %d, cols %d", len(gammaData), len(betaData), c)
	}

	for i := 0; i < r; i++ {
		row := t.data[i*c : (i+1)*c]
		mean, variance := simd.MeanVariance(row)
		invStd := float32(1.0 / math.Sqrt(float64(variance)+float64(eps)))

		for j := range row {
			row[j] = (row[j]-mean)*invStd*gammaData[j] + betaData[j]
		}
	}
}

func (t *CPUTensor) Linear(input, weight, bias Tensor) Tensor {
	r, _ := input.Dims()
	_, wc := weight.Dims()

	result := t.backend.GetTensor(r, wc)
	result.Mul(input, weight)

	if bias != nil {
		result.AddBias(bias)
	}

	return result
}

func (t *CPUTensor) ExtractTo(destination [][]float32, startRow int) {
	rows, cols := t.Dims()
	for i := 0; i < rows; i++ {
		dst := startRow + i
		if dst >= len(destination) {
			return
		}
		row := make([]float32, cols)
		for j := 0; j < cols; j++ {
			row[j] = t.At(i, j)
		}
		destination[dst] = row
	}
}
