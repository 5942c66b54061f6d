package port

import "ragchat/internal/domain"

// Chunker splits extracted pages into ordered, unembedded chunks.
type Chunker interface {
	Chunk(docID string, pages []domain.Page) ([]domain.Chunk, error)
}

// Extractor converts raw document bytes into plain-text pages.
type Extractor interface {
	Extract(data []byte, format domain.Format) ([]domain.Page, error)
}
