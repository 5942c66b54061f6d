package port

import (
	"context"

	"ragchat/internal/domain"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension, or 0 if not yet known.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}

// VectorStore owns persisted chunks and their vectors.
type VectorStore interface {
	// Upsert atomically replaces every chunk of docID with chunks.
	Upsert(docID string, chunks []domain.Chunk) error

	// DeleteDocument removes every chunk of docID. Absent documents are a no-op.
	DeleteDocument(docID string) error

	// Search returns chunks by descending cosine similarity to query.
	Search(query []float32, topK int, filter SearchFilter) ([]domain.ScoredChunk, error)

	// ChunksByDocument returns the stored chunks of docID in sequence order.
	ChunksByDocument(docID string) ([]domain.Chunk, error)

	// Count returns the number of indexed chunks.
	Count() int
}

// SearchFilter narrows a vector search.
type SearchFilter struct {
	// Scoped restricts results to DocIDs. A scoped filter with no ids matches nothing.
	Scoped bool
	DocIDs []string

	// Threshold drops results scoring below it when set.
	Threshold *float64
}
