package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"ragchat/internal/adapter/analyzer"
	"ragchat/internal/domain"
)

func scored(docID, id, text string, score float64) domain.ScoredChunk {
	return domain.ScoredChunk{
		Chunk: domain.Chunk{ID: id, DocID: docID, Page: 1, Text: text},
		Score: score,
	}
}

func TestPackKeepsLongestFittingPrefix(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.PutDocument(domain.Document{ID: "doc1", Name: "guide.md", CreatedAt: time.Now()}, nil))

	chunks := []domain.ScoredChunk{
		scored("doc1", "c1", "0123456789", 0.9),
		scored("doc1", "c2", "01234", 0.8),
		scored("doc1", "c3", "0123456789", 0.7),
		scored("doc1", "c4", "0", 0.6), // would fit, but only a prefix is kept
	}

	packer := NewPackUseCase(env.store, nil, 20, BudgetChars)
	packed := packer.Pack(chunks)

	require.Len(t, packed.Blocks, 2)
	assert.Equal(t, 15, packed.Used)
	assert.Equal(t, 2, packed.Dropped)
	assert.Equal(t, "guide.md", packed.Blocks[0].DocumentName)
	assert.Equal(t, 2, packed.Blocks[1].Index)

	require.Len(t, packed.Citations, 2)
	assert.Equal(t, "c1", packed.Citations[0].ChunkID)
	assert.Equal(t, "c2", packed.Citations[1].ChunkID)
	assert.Equal(t, 0.8, packed.Citations[1].Score)
}

func TestPackCountsRunesNotBytes(t *testing.T) {
	env := newTestEnv(t)
	packer := NewPackUseCase(env.store, nil, 4, BudgetChars)

	packed := packer.Pack([]domain.ScoredChunk{scored("gone", "c1", "日本語!", 1)})
	require.Len(t, packed.Blocks, 1)
	assert.Equal(t, 4, packed.Used)
	assert.Equal(t, "gone", packed.Blocks[0].DocumentName, "missing documents are named by id")
}

func TestPackTokenBudget(t *testing.T) {
	env := newTestEnv(t)
	tokenizer := analyzer.NewTokenizer(1)
	packer := NewPackUseCase(env.store, tokenizer, 5, BudgetTokens)

	packed := packer.Pack([]domain.ScoredChunk{
		scored("d", "c1", "one two three", 1),
		scored("d", "c2", "four five six", 0.5),
	})
	require.Len(t, packed.Blocks, 1)
	assert.Equal(t, tokenizer.CountTokens("one two three"), packed.Used)
	assert.Equal(t, BudgetTokens, packed.Unit)
}

func TestPackUnlimitedAndEmpty(t *testing.T) {
	env := newTestEnv(t)
	packer := NewPackUseCase(env.store, nil, 0, BudgetChars)

	packed := packer.Pack(nil)
	assert.Empty(t, packed.Blocks)
	assert.NotNil(t, packed.Citations)

	packed = packer.Pack([]domain.ScoredChunk{scored("d", "c1", page("x", 10000), 1)})
	assert.Len(t, packed.Blocks, 1)
}
