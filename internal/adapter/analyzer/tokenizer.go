package analyzer

import (
	"strings"
	"unicode"

	"ragchat/internal/port"
)

// Tokenizer estimates LLM token counts without a model vocabulary.
type Tokenizer struct {
	tokensPerWord float64
}

var _ port.Tokenizer = (*Tokenizer)(nil)

// NewTokenizer creates a Tokenizer. A ratio <= 0 selects the default of
// about 1.3 tokens per word, which holds for English prose.
func NewTokenizer(tokensPerWord float64) *Tokenizer {
	if tokensPerWord <= 0 {
		tokensPerWord = 1.3
	}
	return &Tokenizer{tokensPerWord: tokensPerWord}
}

// CountTokens returns an approximate token count for LLM budget estimation.
// Punctuation marks count as one token each.
func (t *Tokenizer) CountTokens(text string) int {
	words, marks := splitWords(text)
	if len(words) == 0 && marks == 0 {
		return 0
	}
	n := int(float64(len(words))*t.tokensPerWord + 0.5)
	return n + marks
}

// splitWords splits text into words using unicode word boundaries and
// counts the punctuation and symbol runes between them.
func splitWords(text string) (words []string, marks int) {
	var current strings.Builder

	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			current.WriteRune(r)
			continue
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			marks++
		}
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		words = append(words, current.String())
	}

	return words, marks
}
