package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"
	"github.com/rs/zerolog/log"
)

const (
	torchFileName  = "pytorch_model.bin"
	nativeFileName = "bert.ckpt"
)

// ConvertOption customises TorchToNative.
type ConvertOption func(*convertOptions)

type convertOptions struct {
	dtype string
}

// WithFloat16 stores tensors as IEEE 754 half precision.
func WithFloat16() ConvertOption {
	return func(o *convertOptions) {
		o.dtype = DTypeFloat16
	}
}

var keyReplacer = strings.NewReplacer("self", "self_attn")

// RenameKey maps a PyTorch parameter name to the native name.
func RenameKey(key string) string {
	key = strings.ReplaceAll(key, "LayerNorm", "layer_norm")
	if strings.Contains(key, "layer_norm") {
		key = strings.ReplaceAll(key, ".weight", ".gamma")
		key = strings.ReplaceAll(key, ".bias", ".beta")
	}
	if strings.Contains(key, "embeddings") {
		key = strings.ReplaceAll(key, "weight", "embedding_table")
	}
	if strings.Contains(key, "self") {
		key = keyReplacer.Replace(key)
	}
	return key
}

// ConvertedPath is where TorchToNative writes the checkpoint for source.
func ConvertedPath(source string) string {
	dir, name := filepath.Split(source)
	if name == torchFileName {
		return filepath.Join(dir, nativeFileName)
	}
	return source + ".ckpt"
}

type namedTensor struct {
	name   string
	tensor *pytorch.Tensor
}

// TorchToNative converts a PyTorch state dict to a native checkpoint and
// returns its path. An existing file at the destination is left untouched.
func TorchToNative(ctx context.Context, source string, opts ...ConvertOption) (string, error) {
	o := convertOptions{dtype: DTypeFloat32}
	for _, opt := range opts {
		opt(&o)
	}

	target := ConvertedPath(source)
	if _, err := os.Stat(target); err == nil {
		log.Info().Str("path", target).Msg("Checkpoint already converted, skipping")
		return target, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s: %w", ErrSaveCheckpoint, target, err)
	}

	log.Info().Str("source", source).Str("dtype", o.dtype).Msg("Starting checkpoint conversion")
	start := time.Now()

	tensors, err := readTorch(source)
	if err != nil {
		return "", err
	}
	f, err := convertTensors(ctx, tensors, o.dtype)
	if err != nil {
		return "", err
	}
	if err := Save(target, f); err != nil {
		return "", err
	}

	log.Info().
		Str("path", target).
		Int("tensors", len(f.Tensors)).
		Dur("elapsed", time.Since(start)).
		Msg("Checkpoint conversion complete")
	return target, nil
}

func readTorch(path string) ([]namedTensor, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrTorchUnavailable, path, err)
	}
	obj, err := loadTorch(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrTorchUnavailable, path, err)
	}
	dict, ok := obj.(*types.OrderedDict)
	if !ok {
		return nil, fmt.Errorf("%w: %s: top-level object is %T, not a state dict", ErrTorchUnavailable, path, obj)
	}

	out := make([]namedTensor, 0, dict.Len())
	for e := dict.List.Front(); e != nil; e = e.Next() {
		entry := e.Value.(*types.OrderedDictEntry)
		name, ok := entry.Key.(string)
		if !ok {
			continue
		}
		t, ok := entry.Value.(*pytorch.Tensor)
		if !ok {
			log.Debug().Str("key", name).Msgf("Skipping non-tensor value %T", entry.Value)
			continue
		}
		out = append(out, namedTensor{name: name, tensor: t})
	}
	return out, nil
}

// loadTorch runs the unpickler, which panics on some malformed inputs.
func loadTorch(path string) (obj any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unreadable pickle: %v", r)
		}
	}()
	return pytorch.Load(path)
}

func convertTensors(ctx context.Context, tensors []namedTensor, dtype string) (*File, error) {
	f := NewFile(dtype)
	for _, nt := range tensors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		values, err := tensorValues(nt.tensor)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrTorchUnavailable, nt.name, err)
		}
		name := RenameKey(nt.name)
		log.Debug().Str("from", nt.name).Str("to", name).Ints("shape", nt.tensor.Size).Msg("Converted tensor")
		f.Add(name, nt.tensor.Size, values)
	}
	return f, nil
}

// tensorValues returns the tensor's elements in row-major order as float32.
func tensorValues(t *pytorch.Tensor) ([]float32, error) {
	var src []float32
	switch s := t.Source.(type) {
	case *pytorch.FloatStorage:
		src = s.Data
	case *pytorch.HalfStorage:
		src = s.Data
	case *pytorch.BFloat16Storage:
		src = s.Data
	case *pytorch.DoubleStorage:
		src = make([]float32, len(s.Data))
		for i, v := range s.Data {
			src[i] = float32(v)
		}
	case *pytorch.LongStorage:
		src = make([]float32, len(s.Data))
		for i, v := range s.Data {
			src[i] = float32(v)
		}
	case *pytorch.IntStorage:
		src = make([]float32, len(s.Data))
		for i, v := range s.Data {
			src[i] = float32(v)
		}
	default:
		return nil, fmt.Errorf("unsupported storage %T", t.Source)
	}
	return strided(src, t.StorageOffset, t.Size, t.Stride)
}

// strided gathers a (possibly non-contiguous) view of src into a new
// row-major slice.
func strided(src []float32, offset int, size, stride []int) ([]float32, error) {
	if len(size) != len(stride) {
		return nil, fmt.Errorf("size %v and stride %v disagree", size, stride)
	}
	n := numel(size)
	out := make([]float32, n)
	if n == 0 {
		return out, nil
	}

	last := offset
	for d := range size {
		last += (size[d] - 1) * stride[d]
	}
	if offset < 0 || last >= len(src) {
		return nil, fmt.Errorf("view [%d, %d] exceeds storage of %d", offset, last, len(src))
	}

	if isContiguous(size, stride) {
		copy(out, src[offset:offset+n])
		return out, nil
	}

	idx := make([]int, len(size))
	for i := range out {
		pos := offset
		for d, v := range idx {
			pos += v * stride[d]
		}
		out[i] = src[pos]
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < size[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out, nil
}

func isContiguous(size, stride []int) bool {
	expected := 1
	for d := len(size) - 1; d >= 0; d-- {
		if size[d] != 1 && stride[d] != expected {
			return false
		}
		expected *= size[d]
	}
	return true
}
