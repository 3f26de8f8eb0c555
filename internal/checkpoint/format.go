package checkpoint

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"

	"github.com/23skdu/longbow-bert/internal/device"
)

// FormatVersion is written into every checkpoint.
const FormatVersion = 1

// Storage types for tensor data.
const (
	DTypeFloat32 = "float32"
	DTypeFloat16 = "float16"
)

// File is the native checkpoint: an ordered list of named tensors, CBOR encoded.
type File struct {
	Version int     `cbor:"version"`
	DType   string  `cbor:"dtype"`
	Tensors []Entry `cbor:"tensors"`
}

// Entry is a single tensor. Data holds little-endian values of the file's DType.
type Entry struct {
	Name  string `cbor:"name"`
	Shape []int  `cbor:"shape"`
	Data  []byte `cbor:"data"`
}

// NewFile packs tensors using dtype storage.
func NewFile(dtype string) *File {
	return &File{Version: FormatVersion, DType: dtype}
}

// Add appends a tensor, encoding values in the file's dtype.
func (f *File) Add(name string, shape []int, values []float32) {
	var data []byte
	if f.DType == DTypeFloat16 {
		data = device.EncodeFloat16(values)
	} else {
		data = device.EncodeFloat32(values)
	}
	f.Tensors = append(f.Tensors, Entry{Name: name, Shape: append([]int(nil), shape...), Data: data})
}

// Values decodes an entry's data.
func (f *File) Values(e Entry) ([]float32, error) {
	var values []float32
	switch f.DType {
	case DTypeFloat16:
		values = device.DecodeFloat16(e.Data)
	case DTypeFloat32, "":
		values = device.DecodeFloat32(e.Data)
	default:
		return nil, fmt.Errorf("%w: unsupported dtype %q", ErrInvalidCheckpoint, f.DType)
	}
	if len(values) != numel(e.Shape) {
		return nil, fmt.Errorf("%w: %s holds %d values for shape %v", ErrInvalidCheckpoint, e.Name, len(values), e.Shape)
	}
	return values, nil
}

// Encode writes f to w.
func Encode(w io.Writer, f *File) error {
	return cbor.NewEncoder(w).Encode(f)
}

// Decode reads a checkpoint from r.
func Decode(r io.Reader) (*File, error) {
	var f File
	if err := cbor.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCheckpoint, err)
	}
	if f.Version != FormatVersion {
		return nil, fmt.Errorf("%w: version %d", ErrInvalidCheckpoint, f.Version)
	}
	return &f, nil
}

// Save writes f to path. The file appears only once it is complete.
func Save(path string, f *File) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSaveCheckpoint, path, err)
	}
	if err := writeFile(tmp, f); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %s: %w", ErrSaveCheckpoint, path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %s: %w", ErrSaveCheckpoint, path, err)
	}
	return nil
}

func writeFile(out *os.File, f *File) error {
	if err := out.Chmod(0o644); err != nil {
		out.Close()
		return err
	}
	if err := Encode(out, f); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Read loads a checkpoint from path.
func Read(path string) (*File, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	f, err := Decode(in)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
