package checkpoint

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-bert/internal/device"
	"github.com/23skdu/longbow-bert/internal/model"
)

func TestRenameKey(t *testing.T) {
	tests := map[string]string{
		"bert.embeddings.word_embeddings.weight":                 "bert.embeddings.word_embeddings.embedding_table",
		"bert.embeddings.position_embeddings.weight":             "bert.embeddings.position_embeddings.embedding_table",
		"bert.embeddings.LayerNorm.weight":                       "bert.embeddings.layer_norm.gamma",
		"bert.embeddings.LayerNorm.bias":                         "bert.embeddings.layer_norm.beta",
		"bert.encoder.layer.0.attention.self.query.weight":       "bert.encoder.layer.0.attention.self_attn.query.weight",
		"bert.encoder.layer.0.attention.self.key.bias":           "bert.encoder.layer.0.attention.self_attn.key.bias",
		"bert.encoder.layer.3.attention.output.LayerNorm.weight": "bert.encoder.layer.3.attention.output.layer_norm.gamma",
		"bert.encoder.layer.3.output.dense.weight":               "bert.encoder.layer.3.output.dense.weight",
		"bert.pooler.dense.bias":                                 "bert.pooler.dense.bias",
		"cls.predictions.transform.LayerNorm.bias":               "cls.predictions.transform.layer_norm.beta",
		"cls.predictions.decoder.weight":                         "cls.predictions.decoder.weight",
		"cls.seq_relationship.weight":                            "cls.seq_relationship.weight",
	}
	for from, want := range tests {
		assert.Equal(t, want, RenameKey(from), from)
	}
}

func TestConvertedPath(t *testing.T) {
	require.Equal(t, filepath.Join("models", "bert", "bert.ckpt"), ConvertedPath(filepath.Join("models", "bert", "pytorch_model.bin")))
	require.Equal(t, "weights.pt.ckpt", ConvertedPath("weights.pt"))
}

func TestStrided(t *testing.T) {
	src := []float32{0, 1, 2, 3, 4, 5, 6}

	out, err := strided(src, 1, []int{2, 3}, []int{3, 1})
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2, 3, 4, 5, 6}, out)

	// Transposed view of a 3x2 matrix starting at offset 1.
	out, err = strided(src, 1, []int{2, 3}, []int{1, 2})
	require.NoError(t, err)
	require.Equal(t, []float32{1, 3, 5, 2, 4, 6}, out)

	_, err = strided(src, 2, []int{2, 3}, []int{3, 1})
	require.Error(t, err)

	out, err = strided(src, 4, []int{}, []int{})
	require.NoError(t, err)
	require.Equal(t, []float32{4}, out)
}

func TestTensorValues(t *testing.T) {
	values, err := tensorValues(&pytorch.Tensor{
		Source: &pytorch.DoubleStorage{Data: []float64{0.5, 1.5, 2.5, 3.5}},
		Size:   []int{2, 2},
		Stride: []int{2, 1},
	})
	require.NoError(t, err)
	require.Equal(t, []float32{0.5, 1.5, 2.5, 3.5}, values)

	values, err = tensorValues(&pytorch.Tensor{
		Source:        &pytorch.LongStorage{Data: []int64{9, 0, 1, 2}},
		StorageOffset: 1,
		Size:          []int{1, 3},
		Stride:        []int{3, 1},
	})
	require.NoError(t, err)
	require.Equal(t, []float32{0, 1, 2}, values)
}

func floatTensor(shape []int, data []float32) *pytorch.Tensor {
	stride := make([]int, len(shape))
	s := 1
	for d := len(shape) - 1; d >= 0; d-- {
		stride[d] = s
		s *= shape[d]
	}
	return &pytorch.Tensor{Source: &pytorch.FloatStorage{Data: data}, Size: shape, Stride: stride}
}

func TestConvertTensors(t *testing.T) {
	tensors := []namedTensor{
		{name: "bert.embeddings.LayerNorm.weight", tensor: floatTensor([]int{2}, []float32{1, 1})},
		{name: "bert.encoder.layer.0.attention.self.query.weight", tensor: floatTensor([]int{2, 2}, []float32{1, 2, 3, 4})},
	}
	f, err := convertTensors(context.Background(), tensors, DTypeFloat32)
	require.NoError(t, err)
	require.Len(t, f.Tensors, 2)
	require.Equal(t, "bert.embeddings.layer_norm.gamma", f.Tensors[0].Name)
	require.Equal(t, "bert.encoder.layer.0.attention.self_attn.query.weight", f.Tensors[1].Name)

	values, err := f.Values(f.Tensors[1])
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2, 3, 4}, values)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = convertTensors(ctx, tensors, DTypeFloat32)
	require.ErrorIs(t, err, context.Canceled)
}

func TestTorchToNativeSkipsExisting(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "pytorch_model.bin")
	target := filepath.Join(dir, "bert.ckpt")
	require.NoError(t, os.WriteFile(source, []byte("not a torch file"), 0o644))
	require.NoError(t, os.WriteFile(target, []byte("existing"), 0o644))

	path, err := TorchToNative(context.Background(), source)
	require.NoError(t, err)
	require.Equal(t, target, path)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "existing", string(data))
}

func TestTorchToNativeRejectsNonTorch(t *testing.T) {
	dir := t.TempDir()

	_, err := TorchToNative(context.Background(), filepath.Join(dir, "pytorch_model.bin"))
	require.ErrorIs(t, err, ErrTorchUnavailable)

	source := filepath.Join(dir, "garbage.bin")
	require.NoError(t, os.WriteFile(source, []byte{0xff, 0xfe, 0xfd, 0x00}, 0o644))
	_, err = TorchToNative(context.Background(), source)
	require.ErrorIs(t, err, ErrTorchUnavailable)

	_, err = os.Stat(ConvertedPath(source))
	require.True(t, os.IsNotExist(err))

	// A truncated pickle makes the unpickler index past its memo.
	truncated := filepath.Join(t.TempDir(), "pytorch_model.bin")
	require.NoError(t, os.WriteFile(truncated, []byte{0xff, 0x00}, 0o644))
	require.NotPanics(t, func() {
		_, err = TorchToNative(context.Background(), truncated)
	})
	require.ErrorIs(t, err, ErrTorchUnavailable)
	_, err = os.Stat(ConvertedPath(truncated))
	require.True(t, os.IsNotExist(err))
}

func TestSaveFailure(t *testing.T) {
	err := Save(filepath.Join(t.TempDir(), "missing", "bert.ckpt"), NewFile(DTypeFloat32))
	require.ErrorIs(t, err, ErrSaveCheckpoint)

	// The rename fails when the target is a directory; nothing is left behind.
	dir := t.TempDir()
	target := filepath.Join(dir, "bert.ckpt")
	require.NoError(t, os.Mkdir(target, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(target, "keep"), nil, 0o644))

	f := NewFile(DTypeFloat32)
	f.Add("w", []int{2}, []float32{1, 2})
	err = Save(target, f)
	require.ErrorIs(t, err, ErrSaveCheckpoint)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "bert.ckpt", entries[0].Name())
}

func TestSaveReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bert.ckpt")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))

	f := NewFile(DTypeFloat32)
	f.Add("w", []int{1}, []float32{7})
	require.NoError(t, Save(path, f))

	got, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, "w", got.Tensors[0].Name)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestFileRoundTrip(t *testing.T) {
	values := []float32{0.1, -2.5, 3.14159, 65000, 1e-3, 0}

	t.Run("Float32", func(t *testing.T) {
		f := NewFile(DTypeFloat32)
		f.Add("w", []int{2, 3}, values)

		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, f))
		got, err := Decode(&buf)
		require.NoError(t, err)
		require.Equal(t, "w", got.Tensors[0].Name)
		require.Equal(t, []int{2, 3}, got.Tensors[0].Shape)

		decoded, err := got.Values(got.Tensors[0])
		require.NoError(t, err)
		require.Equal(t, values, decoded)
	})

	t.Run("Float16", func(t *testing.T) {
		f := NewFile(DTypeFloat16)
		f.Add("w", []int{6}, values)
		require.Len(t, f.Tensors[0].Data, 12)

		path := filepath.Join(t.TempDir(), "half.ckpt")
		require.NoError(t, Save(path, f))
		got, err := Read(path)
		require.NoError(t, err)
		require.Equal(t, DTypeFloat16, got.DType)

		decoded, err := got.Values(got.Tensors[0])
		require.NoError(t, err)
		for i, v := range values {
			assert.InDelta(t, v, decoded[i], float64(abs(v))*1e-3+1e-6, "index %d", i)
		}
	})

	t.Run("BadVersion", func(t *testing.T) {
		data, err := cbor.Marshal(File{Version: 99})
		require.NoError(t, err)
		_, err = Decode(bytes.NewReader(data))
		require.ErrorIs(t, err, ErrInvalidCheckpoint)
	})

	t.Run("BadLength", func(t *testing.T) {
		f := NewFile(DTypeFloat32)
		f.Add("w", []int{2}, []float32{1, 2, 3})
		_, err := f.Values(f.Tensors[0])
		require.ErrorIs(t, err, ErrInvalidCheckpoint)
	})
}

func abs(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func smallConfig() model.Config {
	cfg := model.DefaultConfig()
	cfg.VocabSize = 40
	cfg.HiddenSize = 16
	cfg.NumHiddenLayers = 1
	cfg.NumAttentionHeads = 2
	cfg.IntermediateSize = 32
	cfg.MaxPositionEmbeddings = 8
	return cfg
}

func TestLoadIntoModel(t *testing.T) {
	backend := device.NewCPUBackend()
	src, err := model.NewModel(smallConfig(), backend, model.WithSeed(1))
	require.NoError(t, err)
	dst, err := model.NewModel(smallConfig(), backend, model.WithSeed(2))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "bert.ckpt")
	require.NoError(t, Save(path, FromModel(src, DTypeFloat32)))

	report, err := Load(path, dst)
	require.NoError(t, err)
	require.Empty(t, report.Missing)
	require.Empty(t, report.Unexpected)

	srcParams := src.NamedParameters()
	for i, p := range dst.NamedParameters() {
		require.Equal(t, srcParams[i].Tensor.ToHost(), p.Tensor.ToHost(), p.Name)
	}
}

func TestLoadResolvesPrefixes(t *testing.T) {
	backend := device.NewCPUBackend()
	base, err := model.NewModel(smallConfig(), backend, model.WithSeed(1))
	require.NoError(t, err)
	pretraining, err := model.NewForPretraining(smallConfig(), backend, model.WithSeed(2))
	require.NoError(t, err)

	f := FromModel(base, DTypeFloat32)
	f.Add("bert.embeddings.position_ids", []int{1, 8}, make([]float32, 8))

	report, err := NewLoader(pretraining).LoadFile(f)
	require.NoError(t, err)
	require.Equal(t, []string{"bert.embeddings.position_ids"}, report.Unexpected)
	require.Contains(t, report.Loaded, "bert.pooler.dense.weight")
	require.Contains(t, report.Missing, "cls.seq_relationship.weight")
	// The decoder shares the embedding table, which was loaded.
	require.NotContains(t, report.Missing, "cls.predictions.decoder.weight")

	require.Equal(t,
		base.Embeddings.WordEmbeddings.Table.ToHost(),
		pretraining.Cls.Predictions.Decoder.Weight.ToHost())

	// And a head checkpoint loads into the bare model by dropping the prefix.
	report, err = NewLoader(base).LoadFile(FromModel(pretraining, DTypeFloat32))
	require.NoError(t, err)
	require.Empty(t, report.Missing)
	require.Contains(t, report.Unexpected, "cls.predictions.bias")
}

func TestLoadShapeMismatch(t *testing.T) {
	m, err := model.NewModel(smallConfig(), device.NewCPUBackend(), model.WithSeed(1))
	require.NoError(t, err)

	f := NewFile(DTypeFloat32)
	f.Add("pooler.dense.weight", []int{8, 32}, make([]float32, 256))
	_, err = NewLoader(m).LoadFile(f)
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestRawRoundTrip(t *testing.T) {
	backend := device.NewCPUBackend()
	src, err := model.NewForPretraining(smallConfig(), backend, model.WithSeed(1))
	require.NoError(t, err)
	dst, err := model.NewForPretraining(smallConfig(), backend, model.WithSeed(2))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteRaw(&buf, src))
	require.NoError(t, NewLoader(dst).ReadRaw(&buf))
	require.Zero(t, buf.Len())

	require.Equal(t,
		src.Cls.Predictions.Decoder.Weight.ToHost(),
		dst.Cls.Predictions.Decoder.Weight.ToHost())
	require.Same(t, dst.Bert.Embeddings.WordEmbeddings.Table, dst.Cls.Predictions.Decoder.Weight)

	require.Error(t, NewLoader(dst).ReadRaw(bytes.NewReader([]byte{1, 2, 3})))
	require.Error(t, NewLoader(dst).LoadFromRawBinary(filepath.Join(t.TempDir(), "missing.bin")))
}
