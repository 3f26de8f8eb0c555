package embeddings

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-bert/internal/device"
	"github.com/23skdu/longbow-bert/internal/model"
	"github.com/23skdu/longbow-bert/internal/tokenizer"
)

func testConfig() model.Config {
	cfg := model.DefaultConfig()
	cfg.VocabSize = 32
	cfg.HiddenSize = 16
	cfg.NumHiddenLayers = 2
	cfg.NumAttentionHeads = 2
	cfg.IntermediateSize = 32
	cfg.MaxPositionEmbeddings = 32
	return cfg
}

func testTokenizer(t testing.TB) *tokenizer.WordPieceTokenizer {
	t.Helper()
	tokens := []string{
		"[PAD]", "[UNK]", "[CLS]", "[SEP]", "[MASK]",
		"hello", "world", "test", "sentence", "embedding",
		"##lo", "##ld", "lorem", "ipsum", ".",
	}
	vocab := make(map[string]int, len(tokens))
	for i, tok := range tokens {
		vocab[tok] = i
	}
	tok, err := tokenizer.NewFromVocab(vocab)
	require.NoError(t, err)
	return tok
}

func testEmbedder(t testing.TB, opts ...Option) *Embedder {
	t.Helper()
	m, err := model.NewModel(testConfig(), device.NewCPUBackend(), model.WithSeed(7))
	require.NoError(t, err)
	return NewEmbedder(m, testTokenizer(t), opts...)
}

func TestEmbedder_Embed(t *testing.T) {
	e := testEmbedder(t)
	texts := []string{"hello world", "test sentence", ""}

	vectors, err := e.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))
	for i, v := range vectors {
		assert.Len(t, v, e.Dim(), "text %q", texts[i])
		for _, x := range v {
			assert.LessOrEqual(t, x, float32(1))
			assert.GreaterOrEqual(t, x, float32(-1))
		}
	}
}

func TestEmbedder_PaddingInvariance(t *testing.T) {
	e := testEmbedder(t)
	ctx := context.Background()

	alone, err := e.Embed(ctx, []string{"hello"})
	require.NoError(t, err)

	batched, err := e.Embed(ctx, []string{"hello", "hello world test sentence embedding"})
	require.NoError(t, err)

	assert.InDeltaSlice(t, alone[0], batched[0], 1e-5)
}

func TestEmbedder_TruncatesToPositionTable(t *testing.T) {
	e := testEmbedder(t)
	ctx := context.Background()
	positions := testConfig().MaxPositionEmbeddings

	long, err := e.Embed(ctx, []string{strings.Repeat("hello ", positions+8)})
	require.NoError(t, err)
	require.Len(t, long[0], e.Dim())

	// [CLS] and [SEP] leave room for positions-2 words.
	fits, err := e.Embed(ctx, []string{strings.Repeat("hello ", positions-2)})
	require.NoError(t, err)
	assert.InDeltaSlice(t, fits[0], long[0], 1e-5)
}

func TestEmbedder_StreamChunks(t *testing.T) {
	e := testEmbedder(t, WithBatchSize(2))
	texts := GenerateLorem(5, 1)

	var offsets []int
	total := 0
	for chunk := range e.EmbedBatch(context.Background(), texts) {
		require.NoError(t, chunk.Err)
		require.Len(t, chunk.Vectors, chunk.Count)
		offsets = append(offsets, chunk.Offset)
		total += chunk.Count
	}
	assert.Equal(t, []int{0, 2, 4}, offsets)
	assert.Equal(t, 5, total)
}

func TestEmbedder_Empty(t *testing.T) {
	e := testEmbedder(t)
	vectors, err := e.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

func BenchmarkEmbedder_Embed(b *testing.B) {
	e := testEmbedder(b)
	texts := GenerateLorem(16, 1)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Embed(ctx, texts); err != nil {
			b.Fatal(err)
		}
	}
}
