package tokenizer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var testVocab = []string{
	"[PAD]", "[UNK]", "[CLS]", "[SEP]", "[MASK]",
	"hello", "world", "hi", "how", "are", "you",
	"##lo", "##ld", "##i", ",", "!", "中", "国", "Hello",
}

func newTestTokenizer(t *testing.T, opts ...Option) *WordPieceTokenizer {
	t.Helper()
	vocabPath := filepath.Join(t.TempDir(), "vocab.txt")
	require.NoError(t, os.WriteFile(vocabPath, []byte(strings.Join(testVocab, "\n")+"\n"), 0o644))

	tk, err := NewWordPieceTokenizer(vocabPath, opts...)
	require.NoError(t, err)
	return tk
}

func TestTokenizer(t *testing.T) {
	tk := newTestTokenizer(t)
	require.Equal(t, len(testVocab), tk.VocabSize())
	require.Equal(t, 0, tk.PadID())

	t.Run("BasicTokenize", func(t *testing.T) {
		tokens, ids := tk.Tokenize("Hello world")
		require.Equal(t, []string{"hello", "world"}, tokens)
		require.Equal(t, []int{5, 6}, ids)
	})

	t.Run("WordPieceSplit", func(t *testing.T) {
		tokens, ids := tk.Tokenize("hellold")
		require.Equal(t, []string{"hello", "##ld"}, tokens)
		require.Equal(t, []int{5, 12}, ids)
	})

	t.Run("UNKHandling", func(t *testing.T) {
		tokens, ids := tk.Tokenize("unknownword")
		require.Equal(t, []string{"[UNK]"}, tokens)
		require.Equal(t, []int{1}, ids)
	})

	t.Run("Normalization", func(t *testing.T) {
		tokens, ids := tk.Tokenize("Héllo")
		require.Equal(t, []string{"hello"}, tokens)
		require.Equal(t, []int{5}, ids)
	})

	t.Run("Punctuation", func(t *testing.T) {
		tokens, _ := tk.Tokenize("hi, how are you!")
		require.Equal(t, []string{"hi", ",", "how", "are", "you", "!"}, tokens)
	})

	t.Run("SpecialTokensKept", func(t *testing.T) {
		tokens, ids := tk.Tokenize("hello [MASK] world")
		require.Equal(t, []string{"hello", "[MASK]", "world"}, tokens)
		require.Equal(t, []int{5, 4, 6}, ids)
	})

	t.Run("CJKSplitPerCharacter", func(t *testing.T) {
		tokens, _ := tk.Tokenize("中国")
		require.Equal(t, []string{"中", "国"}, tokens)
	})

	t.Run("ControlCharactersDropped", func(t *testing.T) {
		tokens, _ := tk.Tokenize("hel\x00lo\x01 world")
		require.Equal(t, []string{"hello", "world"}, tokens)
	})
}

func TestCased(t *testing.T) {
	tk := newTestTokenizer(t, WithCased())
	tokens, _ := tk.Tokenize("Hello hello")
	require.Equal(t, []string{"Hello", "hello"}, tokens)
}

func TestEncode(t *testing.T) {
	tk := newTestTokenizer(t)
	enc := tk.Encode("hello world")
	require.Equal(t, []string{"[CLS]", "hello", "world", "[SEP]"}, enc.Tokens)
	require.Equal(t, []int{2, 5, 6, 3}, enc.IDs)
	require.Equal(t, []int{0, 0, 0, 0}, enc.TypeIDs)
	require.Equal(t, []float32{1, 1, 1, 1}, enc.AttentionMask)

	short := newTestTokenizer(t, WithMaxLength(3))
	enc = short.Encode("hello world how")
	require.Equal(t, []string{"[CLS]", "hello", "[SEP]"}, enc.Tokens)
}

func TestLimit(t *testing.T) {
	tk := newTestTokenizer(t)
	require.Equal(t, 512, tk.MaxLength())
	require.Same(t, tk, tk.Limit(1024))
	require.Same(t, tk, tk.Limit(0))

	limited := tk.Limit(4)
	require.Equal(t, 4, limited.MaxLength())
	require.Equal(t, 512, tk.MaxLength())
	require.Equal(t, []string{"[CLS]", "hello", "world", "[SEP]"}, limited.Encode("hello world hi how").Tokens)
	require.Equal(t, []string{"[CLS]", "hello", "[SEP]", "hi", "[SEP]"}, tk.Limit(5).EncodePair("hello world", "hi").Tokens)
}

func TestEncodePair(t *testing.T) {
	tk := newTestTokenizer(t)
	enc := tk.EncodePair("hello world", "how are you")
	require.Equal(t, []string{"[CLS]", "hello", "world", "[SEP]", "how", "are", "you", "[SEP]"}, enc.Tokens)
	require.Equal(t, []int{0, 0, 0, 0, 1, 1, 1, 1}, enc.TypeIDs)

	short := newTestTokenizer(t, WithMaxLength(6))
	enc = short.EncodePair("hello world hi", "you")
	// Longest side loses tokens first.
	require.Equal(t, []string{"[CLS]", "hello", "world", "[SEP]", "you", "[SEP]"}, enc.Tokens)
	require.Equal(t, []int{0, 0, 0, 0, 1, 1}, enc.TypeIDs)
}

func TestDecode(t *testing.T) {
	tk := newTestTokenizer(t)
	require.Equal(t, "hello world", tk.Decode([]int{5, 6}))
	require.Equal(t, "hellold hi", tk.Decode([]int{5, 12, 7}))
}

func TestPadBatch(t *testing.T) {
	tk := newTestTokenizer(t)
	batch := PadBatch([]Encoding{
		tk.Encode("hello"),
		tk.EncodePair("hi", "how are"),
	}, tk.PadID())

	require.Equal(t, []int{3, 6}, batch.Lengths)
	require.Equal(t, [][]int{
		{2, 5, 3, 0, 0, 0},
		{2, 7, 3, 8, 9, 3},
	}, batch.InputIDs)
	require.Equal(t, [][]int{
		{0, 0, 0, 0, 0, 0},
		{0, 0, 0, 1, 1, 1},
	}, batch.TokenTypeIDs)
	require.Equal(t, [][]float32{
		{1, 1, 1, 0, 0, 0},
		{1, 1, 1, 1, 1, 1},
	}, batch.AttentionMask)
}

func TestVocabErrors(t *testing.T) {
	_, err := NewWordPieceTokenizer(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("\n\n"), 0o644))
	_, err = NewWordPieceTokenizer(empty)
	require.ErrorIs(t, err, ErrEmptyVocab)

	_, err = NewFromVocab(map[string]int{"hello": 0})
	require.ErrorIs(t, err, ErrMissingSpecialToken)
}

func TestFindBreak(t *testing.T) {
	require.Equal(t, 5, FindBreak([]byte("hello world")))
	require.Equal(t, 2, FindBreak([]byte("hi,there")))
	require.Equal(t, -1, FindBreak([]byte("plain")))
	require.Equal(t, -1, FindBreak([]byte("héllo")))
	require.Equal(t, 0, FindBreak([]byte("\tx")))
}
