package tokenizer

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Special tokens.
const (
	PadToken  = "[PAD]"
	UnkToken  = "[UNK]"
	ClsToken  = "[CLS]"
	SepToken  = "[SEP]"
	MaskToken = "[MASK]"
)

var (
	// ErrEmptyVocab is returned for a vocab file with no entries.
	ErrEmptyVocab = errors.New("empty vocab")
	// ErrMissingSpecialToken is returned when a vocab lacks a required special token.
	ErrMissingSpecialToken = errors.New("vocab is missing a special token")
)

// Encoding is the model input for one sequence or sentence pair.
type Encoding struct {
	Tokens        []string
	IDs           []int
	TypeIDs       []int
	AttentionMask []float32
}

// Len returns the number of tokens.
func (e Encoding) Len() int {
	return len(e.IDs)
}

// Option customises a WordPieceTokenizer.
type Option func(*WordPieceTokenizer)

// WithCased keeps case and accents, for cased checkpoints.
func WithCased() Option {
	return func(t *WordPieceTokenizer) {
		t.lowercase = false
	}
}

// WithMaxLength truncates encodings to n tokens, special tokens included.
func WithMaxLength(n int) Option {
	return func(t *WordPieceTokenizer) {
		t.maxLength = n
	}
}

// WordPieceTokenizer implements the WordPiece tokenization algorithm.
type WordPieceTokenizer struct {
	vocab         map[string]int
	invVocab      map[int]string
	maxInputChars int
	maxLength     int
	lowercase     bool
	neverSplit    map[string]bool
}

// NewWordPieceTokenizer creates a new WordPieceTokenizer from a vocab file.
func NewWordPieceTokenizer(vocabPath string, opts ...Option) (*WordPieceTokenizer, error) {
	vocab, err := loadVocab(vocabPath)
	if err != nil {
		return nil, err
	}
	return NewFromVocab(vocab, opts...)
}

// NewFromVocab builds a tokenizer from an in-memory token to id map.
func NewFromVocab(vocab map[string]int, opts ...Option) (*WordPieceTokenizer, error) {
	if len(vocab) == 0 {
		return nil, ErrEmptyVocab
	}
	for _, tok := range []string{PadToken, UnkToken, ClsToken, SepToken} {
		if _, ok := vocab[tok]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingSpecialToken, tok)
		}
	}

	invVocab := make(map[int]string, len(vocab))
	for k, v := range vocab {
		invVocab[v] = k
	}

	t := &WordPieceTokenizer{
		vocab:         vocab,
		invVocab:      invVocab,
		maxInputChars: 200,
		maxLength:     512,
		lowercase:     true,
		neverSplit: map[string]bool{
			UnkToken: true, SepToken: true, PadToken: true, ClsToken: true, MaskToken: true,
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// loadVocab reads a BERT-style vocab.txt file: one token per line, id = line number.
func loadVocab(path string) (map[string]int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	vocab := make(map[string]int)
	scanner := bufio.NewScanner(file)
	index := 0
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if strings.TrimSpace(line) != "" {
			vocab[line] = index
		}
		index++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read vocab %s: %w", path, err)
	}
	if len(vocab) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyVocab)
	}
	return vocab, nil
}

// MaxLength is the longest encoding produced, special tokens included.
func (t *WordPieceTokenizer) MaxLength() int {
	return t.maxLength
}

// Limit returns t when it already truncates to n tokens or fewer, otherwise
// a copy sharing t's vocabulary that does.
func (t *WordPieceTokenizer) Limit(n int) *WordPieceTokenizer {
	if n <= 0 || t.maxLength <= n {
		return t
	}
	limited := *t
	limited.maxLength = n
	return &limited
}

// VocabSize returns the number of distinct ids.
func (t *WordPieceTokenizer) VocabSize() int {
	return len(t.invVocab)
}

// TokenID returns the id of tok, or the [UNK] id.
func (t *WordPieceTokenizer) TokenID(tok string) int {
	if id, ok := t.vocab[tok]; ok {
		return id
	}
	return t.vocab[UnkToken]
}

// PadID is the id of [PAD].
func (t *WordPieceTokenizer) PadID() int {
	return t.vocab[PadToken]
}

// basicSplit cleans text and splits it on whitespace, punctuation and CJK
// characters, keeping special tokens whole.
func (t *WordPieceTokenizer) basicSplit(text string) []string {
	var tokens []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for i := 0; i < len(text); {
		// ASCII words are copied up to the next break in one step.
		if text[i] < utf8.RuneSelf && text[i] != '[' {
			if n := FindBreak([]byte(text[i:])); n != 0 {
				if n < 0 {
					n = len(text) - i
				}
				if end := asciiRun(text[i : i+n]); end > 0 {
					current.WriteString(text[i : i+end])
					i += end
					continue
				}
			}
		}

		if text[i] == '[' {
			if special, ok := t.specialAt(text[i:]); ok {
				flush()
				tokens = append(tokens, special)
				i += len(special)
				continue
			}
		}

		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		switch {
		case r == 0 || r == utf8.RuneError || isControl(r):
		case unicode.IsSpace(r):
			flush()
		case isPunctuation(r) || isCJK(r):
			flush()
			tokens = append(tokens, string(r))
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return tokens
}

// asciiRun returns the length of the leading run of plain ASCII bytes in s
// that may be copied into a word verbatim.
func asciiRun(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf || s[i] == '[' || s[i] < 0x20 {
			return i
		}
	}
	return len(s)
}

func (t *WordPieceTokenizer) specialAt(s string) (string, bool) {
	end := strings.IndexByte(s, ']')
	if end < 0 {
		return "", false
	}
	candidate := s[:end+1]
	return candidate, t.neverSplit[candidate]
}

func (t *WordPieceTokenizer) normalize(token string) string {
	if !t.lowercase {
		return token
	}
	token = strings.ToLower(token)
	tform := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(tform, token)
	if err != nil {
		return token
	}
	return out
}

// wordPiece greedily splits a normalised word into the longest vocab pieces.
func (t *WordPieceTokenizer) wordPiece(word string) []string {
	if utf8.RuneCountInString(word) > t.maxInputChars {
		return []string{UnkToken}
	}

	var pieces []string
	start := 0
	for start < len(word) {
		end := len(word)
		var piece string
		for start < end {
			substr := word[start:end]
			if start > 0 {
				substr = "##" + substr
			}
			if _, ok := t.vocab[substr]; ok {
				piece = substr
				break
			}
			_, size := utf8.DecodeLastRuneInString(word[start:end])
			end -= size
		}
		if piece == "" {
			return []string{UnkToken}
		}
		pieces = append(pieces, piece)
		start = end
	}
	return pieces
}

// Tokenize splits text into WordPiece tokens and their ids, without special
// tokens or truncation.
func (t *WordPieceTokenizer) Tokenize(text string) ([]string, []int) {
	rawTokens := t.basicSplit(text)

	outputTokens := make([]string, 0, len(rawTokens)*2)
	outputIDs := make([]int, 0, len(rawTokens)*2)
	for _, token := range rawTokens {
		if t.neverSplit[token] {
			if id, ok := t.vocab[token]; ok {
				outputTokens = append(outputTokens, token)
				outputIDs = append(outputIDs, id)
				continue
			}
		}
		normalized := t.normalize(token)
		if normalized == "" {
			continue
		}
		for _, piece := range t.wordPiece(normalized) {
			outputTokens = append(outputTokens, piece)
			outputIDs = append(outputIDs, t.vocab[piece])
		}
	}
	return outputTokens, outputIDs
}

// Encode produces [CLS] text [SEP], truncated to the maximum length.
func (t *WordPieceTokenizer) Encode(text string) Encoding {
	tokens, _ := t.Tokenize(text)
	if budget := t.maxLength - 2; budget >= 0 && len(tokens) > budget {
		tokens = tokens[:budget]
	}
	return t.build(tokens, nil)
}

// EncodePair produces [CLS] a [SEP] b [SEP] with segment ids 0 for the first
// part and 1 for the second. The longer side is truncated first.
func (t *WordPieceTokenizer) EncodePair(a, b string) Encoding {
	first, _ := t.Tokenize(a)
	second, _ := t.Tokenize(b)
	budget := t.maxLength - 3
	if budget < 0 {
		budget = 0
	}
	for len(first)+len(second) > budget {
		if len(first) >= len(second) {
			first = first[:len(first)-1]
		} else {
			second = second[:len(second)-1]
		}
	}
	return t.build(first, second)
}

func (t *WordPieceTokenizer) build(first, second []string) Encoding {
	n := len(first) + 2
	if second != nil {
		n += len(second) + 1
	}
	enc := Encoding{
		Tokens:        make([]string, 0, n),
		IDs:           make([]int, 0, n),
		TypeIDs:       make([]int, 0, n),
		AttentionMask: make([]float32, 0, n),
	}
	add := func(tok string, segment int) {
		enc.Tokens = append(enc.Tokens, tok)
		enc.IDs = append(enc.IDs, t.TokenID(tok))
		enc.TypeIDs = append(enc.TypeIDs, segment)
		enc.AttentionMask = append(enc.AttentionMask, 1)
	}

	add(ClsToken, 0)
	for _, tok := range first {
		add(tok, 0)
	}
	add(SepToken, 0)
	if second != nil {
		for _, tok := range second {
			add(tok, 1)
		}
		add(SepToken, 1)
	}
	return enc
}

// Decode maps ids back to tokens, joining word pieces.
func (t *WordPieceTokenizer) Decode(ids []int) string {
	var sb strings.Builder
	for _, id := range ids {
		tok, ok := t.invVocab[id]
		if !ok {
			tok = UnkToken
		}
		if rest, ok := strings.CutPrefix(tok, "##"); ok {
			sb.WriteString(rest)
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(tok)
	}
	return sb.String()
}

// Batch is a rectangular, padded batch ready for a forward pass.
type Batch struct {
	InputIDs      [][]int
	TokenTypeIDs  [][]int
	AttentionMask [][]float32
	// Lengths holds the unpadded length of each row.
	Lengths []int
}

// PadBatch right-pads encodings to the longest one with padID.
func PadBatch(encodings []Encoding, padID int) Batch {
	maxLen := 0
	for _, e := range encodings {
		if e.Len() > maxLen {
			maxLen = e.Len()
		}
	}

	b := Batch{
		InputIDs:      make([][]int, len(encodings)),
		TokenTypeIDs:  make([][]int, len(encodings)),
		AttentionMask: make([][]float32, len(encodings)),
		Lengths:       make([]int, len(encodings)),
	}
	for i, e := range encodings {
		ids := make([]int, maxLen)
		types := make([]int, maxLen)
		mask := make([]float32, maxLen)
		copy(ids, e.IDs)
		copy(types, e.TypeIDs)
		copy(mask, e.AttentionMask)
		for j := e.Len(); j < maxLen; j++ {
			ids[j] = padID
		}
		b.InputIDs[i] = ids
		b.TokenTypeIDs[i] = types
		b.AttentionMask[i] = mask
		b.Lengths[i] = e.Len()
	}
	return b
}
