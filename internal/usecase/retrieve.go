package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ragchat/internal/domain"
	"ragchat/internal/port"
)

// RetrieveUseCase handles search and retrieval operations.
type RetrieveUseCase struct {
	embedder          port.Embedder
	vectors           port.VectorStore
	docs              port.DocumentStore
	collections       port.CollectionStore
	topK              int
	minScoreThreshold float64 // Filter results below this score (0 = disabled)
}

// NewRetrieveUseCase creates a new retrieve use case.
func NewRetrieveUseCase(
	embedder port.Embedder,
	vectors port.VectorStore,
	docs port.DocumentStore,
	collections port.CollectionStore,
	topK int,
	minScoreThreshold float64,
) *RetrieveUseCase {
	if topK <= 0 {
		topK = 5
	}
	return &RetrieveUseCase{
		embedder:          embedder,
		vectors:           vectors,
		docs:              docs,
		collections:       collections,
		topK:              topK,
		minScoreThreshold: minScoreThreshold,
	}
}

// Retrieve embeds the query and returns the best matching chunks in scope,
// best first.
func (u *RetrieveUseCase) Retrieve(ctx context.Context, req domain.QueryRequest) ([]domain.ScoredChunk, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("%w: query text is required", domain.ErrInvalidArgument)
	}

	filter, err := u.resolveScope(req.Scope)
	if err != nil {
		return nil, err
	}
	filter.Threshold = u.threshold(req.Threshold)

	vectors, err := u.embedder.Embed(ctx, []string{req.Text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vectors))
	}

	topK := req.TopK
	if topK <= 0 {
		topK = u.topK
	}
	return u.vectors.Search(vectors[0], topK, filter)
}

func (u *RetrieveUseCase) threshold(override *float64) *float64 {
	if override != nil {
		return override
	}
	if u.minScoreThreshold > 0 {
		t := u.minScoreThreshold
		return &t
	}
	return nil
}

// resolveScope turns document and collection references into the set of
// document ids to search. Both parts of a scope are unioned.
func (u *RetrieveUseCase) resolveScope(scope domain.Scope) (port.SearchFilter, error) {
	if scope.IsZero() {
		return port.SearchFilter{}, nil
	}

	ids := make([]string, 0, len(scope.DocumentIDs))
	for _, id := range scope.DocumentIDs {
		if _, err := u.docs.GetDocument(id); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return port.SearchFilter{}, fmt.Errorf("%w: document %s does not exist", domain.ErrInvalidScope, id)
			}
			return port.SearchFilter{}, err
		}
		ids = append(ids, id)
	}

	if scope.CollectionID != "" {
		c, err := u.collections.GetCollection(scope.CollectionID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return port.SearchFilter{}, fmt.Errorf("%w: collection %s does not exist", domain.ErrInvalidScope, scope.CollectionID)
			}
			return port.SearchFilter{}, err
		}
		ids = append(ids, c.DocumentIDs...)
	}

	return port.SearchFilter{Scoped: true, DocIDs: dedupe(nil, ids)}, nil
}
