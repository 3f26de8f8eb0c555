package simd

import "math"

// Exp returns e^x in float32, saturating instead of overflowing.
func Exp(x float32) float32 {
	if x > 88 {
		return math.MaxFloat32
	}
	if x < -88 {
		return 0
	}
	return float32(math.Exp(float64(x)))
}

// Tanh is tanh(x) in float32.
func Tanh(x float32) float32 {
	return float32(math.Tanh(float64(x)))
}

// Sigmoid is 1 / (1 + e^-x).
func Sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}

// Gelu applies the exact (erf based) GELU in-place.
func Gelu(data []float32) {
	for i, x := range data {
		v := float64(x)
		data[i] = float32(0.5 * v * (1 + math.Erf(v/math.Sqrt2)))
	}
}

// GeluTanh applies the tanh approximation of GELU in-place.
func GeluTanh(data []float32) {
	const (
		sqrt2overPi = 0.7978845608028654
		coeff       = 0.044715
	)
	for i, x := range data {
		v := float64(x)
		data[i] = float32(0.5 * v * (1 + math.Tanh(sqrt2overPi*(v+coeff*v*v*v))))
	}
}

// Softmax applies a numerically stable softmax in-place to a row.
func Softmax(row []float32) {
	if len(row) == 0 {
		return
	}
	max := row[0]
	for _, v := range row {
		if v > max {
			max = v
		}
	}

	var sum float64
	for i, v := range row {
		e := math.Exp(float64(v - max))
		row[i] = float32(e)
		sum += e
	}

	inv := float32(1.0 / sum)
	for i := range row {
		row[i] *= inv
	}
}

// VecAdd performs dst += src.
func VecAdd(dst, src []float32) {
	// Unrolled loop for better pipelining
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] += src[i]
		dst[i+1] += src[i+1]
		dst[i+2] += src[i+2]
		dst[i+3] += src[i+3]
	}
	for ; i < len(dst); i++ {
		dst[i] += src[i]
	}
}

// VecAddScaled performs dst += src * scale.
func VecAddScaled(dst, src []float32, scale float32) {
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] += src[i] * scale
		dst[i+1] += src[i+1] * scale
		dst[i+2] += src[i+2] * scale
		dst[i+3] += src[i+3] * scale
	}
	for ; i < len(dst); i++ {
		dst[i] += src[i] * scale
	}
}

// VecScale performs dst *= scale.
func VecScale(dst []float32, scale float32) {
	for i := range dst {
		dst[i] *= scale
	}
}

// DotProduct computes the dot product of two float32 vectors.
// The accumulator is float64 to keep long rows stable.
func DotProduct(a, b []float32) float32 {
	var sum float64
	i := 0
	for ; i <= len(a)-4; i += 4 {
		sum += float64(a[i]) * float64(b[i])
		sum += float64(a[i+1]) * float64(b[i+1])
		sum += float64(a[i+2]) * float64(b[i+2])
		sum += float64(a[i+3]) * float64(b[i+3])
	}
	for ; i < len(a); i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}

// MeanVariance returns the mean and biased variance of a row.
func MeanVariance(row []float32) (mean, variance float32) {
	if len(row) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range row {
		sum += float64(v)
	}
	m := sum / float64(len(row))

	var sq float64
	for _, v := range row {
		d := float64(v) - m
		sq += d * d
	}
	return float32(m), float32(sq / float64(len(row)))
}
