package device

import (
	"encoding/binary"
	"math"

	"github.com/x448/float16"
)

// Float32ToFloat16 converts a float32 to its IEEE 754 binary16 bit pattern,
// rounding to nearest even.
func Float32ToFloat16(f float32) uint16 {
	return float16.Fromfloat32(f).Bits()
}

// Float16ToFloat32 converts a binary16 bit pattern back to float32.
func Float16ToFloat32(h uint16) float32 {
	return float16.Frombits(h).Float32()
}

// EncodeFloat16 packs values as little-endian binary16.
func EncodeFloat16(values []float32) []byte {
	out := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(out[2*i:], Float32ToFloat16(v))
	}
	return out
}

// DecodeFloat16 unpacks little-endian binary16 values.
func DecodeFloat16(b []byte) []float32 {
	out := make([]float32, len(b)/2)
	for i := range out {
		out[i] = Float16ToFloat32(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

// EncodeFloat32 packs values as little-endian float32.
func EncodeFloat32(values []float32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

// DecodeFloat32 unpacks little-endian float32 values.
func DecodeFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}
