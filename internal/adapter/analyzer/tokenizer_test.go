package analyzer

import (
	"testing"
)

func TestCountTokens_Empty(t *testing.T) {
	tok := NewTokenizer(0)
	if n := tok.CountTokens("   \n\t"); n != 0 {
		t.Errorf("expected 0 tokens for whitespace, got %d", n)
	}
}

func TestCountTokens_Words(t *testing.T) {
	tok := NewTokenizer(1)
	if n := tok.CountTokens("the quick brown fox"); n != 4 {
		t.Errorf("expected 4 tokens, got %d", n)
	}
}

func TestCountTokens_Punctuation(t *testing.T) {
	tok := NewTokenizer(1)
	if n := tok.CountTokens("Hello, world!"); n != 4 {
		t.Errorf("expected 4 tokens (2 words + 2 marks), got %d", n)
	}
}

func TestCountTokens_DefaultRatio(t *testing.T) {
	tok := NewTokenizer(0)
	// 10 words * 1.3 = 13
	if n := tok.CountTokens("one two three four five six seven eight nine ten"); n != 13 {
		t.Errorf("expected 13 tokens, got %d", n)
	}
}

func TestSplitWords_Unicode(t *testing.T) {
	words, marks := splitWords("naïve café_au_lait 東京")
	if len(words) != 3 {
		t.Errorf("expected 3 words, got %d: %v", len(words), words)
	}
	if marks != 0 {
		t.Errorf("expected no marks, got %d", marks)
	}
}
