package embeddings

import (
	"math/rand"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var loremWords = []string{
	"lorem", "ipsum", "dolor", "sit", "amet", "consectetur", "adipiscing", "elit",
	"sed", "do", "eiusmod", "tempor", "incididunt", "ut", "labore", "et", "dolore",
	"magna", "aliqua", "enim", "ad", "minim", "veniam", "quis", "nostrud",
	"exercitation", "ullamco", "laboris", "nisi", "aliquip", "ex", "ea",
	"commodo", "consequat", "duis", "aute", "irure", "in", "reprehenderit",
	"voluptate", "velit", "esse", "cillum", "eu", "fugiat", "nulla",
	"pariatur", "excepteur", "sint", "occaecat", "cupidatat", "non", "proident",
	"sunt", "culpa", "qui", "officia", "deserunt", "mollit", "anim", "id", "est", "laborum",
}

// GenerateLorem returns n pseudo-random Lorem Ipsum paragraphs for load tests.
// The same seed yields the same paragraphs.
func GenerateLorem(n int, seed int64) []string {
	r := rand.New(rand.NewSource(seed))
	title := cases.Title(language.Und)
	result := make([]string, n)

	for i := range result {
		sentences := make([]string, 3+r.Intn(5))
		for j := range sentences {
			words := make([]string, 5+r.Intn(10))
			for k := range words {
				words[k] = loremWords[r.Intn(len(loremWords))]
			}
			words[0] = title.String(words[0])
			sentences[j] = strings.Join(words, " ") + "."
		}
		result[i] = strings.Join(sentences, " ")
	}
	return result
}
