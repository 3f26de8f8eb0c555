package tokenizer

import "unicode"

var asciiBreak [128]bool

func init() {
	// ASCII punctuation: ! through /, : through @, [ through `, { through ~.
	// Whitespace: \t \n \v \f \r and space.
	for i := 0; i < 128; i++ {
		if (i >= 33 && i <= 47) || (i >= 58 && i <= 64) || (i >= 91 && i <= 96) || (i >= 123 && i <= 126) {
			asciiBreak[i] = true
		}
		if i == 32 || (i >= 9 && i <= 13) {
			asciiBreak[i] = true
		}
	}
}

// FindBreak returns the index of the first ASCII punctuation or whitespace
// byte in text, or -1.
func FindBreak(text []byte) int {
	for i, b := range text {
		if b < 128 && asciiBreak[b] {
			return i
		}
	}
	return -1
}

func isPunctuation(r rune) bool {
	if r < 128 {
		return asciiBreak[r] && !unicode.IsSpace(r)
	}
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}

func isControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return unicode.IsControl(r) || unicode.In(r, unicode.Cf)
}

// isCJK reports whether r is in the CJK Unified Ideograph blocks, which are
// tokenised one character at a time.
func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0x2A700 && r <= 0x2B73F) ||
		(r >= 0x2B740 && r <= 0x2B81F) ||
		(r >= 0x2B820 && r <= 0x2CEAF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x2F800 && r <= 0x2FA1F)
}
