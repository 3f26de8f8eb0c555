package embeddings

import (
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
)

func TestGenerateLorem(t *testing.T) {
	for _, count := range []int{0, 1, 5, 10} {
		texts := GenerateLorem(count, 42)
		assert.Len(t, texts, count)
		for _, text := range texts {
			assert.NotEmpty(t, text)
			assert.True(t, unicode.IsUpper([]rune(text)[0]), "paragraph starts a sentence: %q", text)
		}
	}
	assert.Equal(t, GenerateLorem(3, 9), GenerateLorem(3, 9))
}
