package usecase

import (
	"unicode/utf8"

	"ragchat/internal/domain"
	"ragchat/internal/port"
)

// BudgetUnit is what a context budget counts.
type BudgetUnit string

const (
	BudgetChars  BudgetUnit = "chars"
	BudgetTokens BudgetUnit = "tokens"
)

// ContextBlock is one retrieved chunk placed in the prompt.
type ContextBlock struct {
	Index        int
	DocumentID   string
	DocumentName string
	Page         int
	Score        float64
	Text         string
}

// PackedContext is the retrieved context that fits the budget.
type PackedContext struct {
	Blocks    []ContextBlock
	Citations []domain.Citation
	Budget    int
	Used      int
	Unit      BudgetUnit
	Dropped   int // chunks left out for lack of budget
}

// PackUseCase handles context packing operations.
type PackUseCase struct {
	docs      port.DocumentStore
	tokenizer port.Tokenizer
	budget    int
	unit      BudgetUnit
}

// NewPackUseCase creates a pack use case. A budget <= 0 means unlimited.
func NewPackUseCase(docs port.DocumentStore, tokenizer port.Tokenizer, budget int, unit BudgetUnit) *PackUseCase {
	if unit == "" {
		unit = BudgetChars
	}
	return &PackUseCase{
		docs:      docs,
		tokenizer: tokenizer,
		budget:    budget,
		unit:      unit,
	}
}

// Pack keeps the longest prefix of chunks, in the given score order, whose
// total size fits the budget. Citations list exactly the kept chunks.
func (u *PackUseCase) Pack(chunks []domain.ScoredChunk) PackedContext {
	packed := PackedContext{
		Blocks:    []ContextBlock{},
		Citations: []domain.Citation{},
		Budget:    u.budget,
		Unit:      u.unit,
	}

	names := make(map[string]string)
	for i, sc := range chunks {
		cost := u.measure(sc.Chunk.Text)
		if u.budget > 0 && packed.Used+cost > u.budget {
			packed.Dropped = len(chunks) - i
			break
		}
		packed.Used += cost

		name, ok := names[sc.Chunk.DocID]
		if !ok {
			name = u.documentName(sc.Chunk.DocID)
			names[sc.Chunk.DocID] = name
		}

		packed.Blocks = append(packed.Blocks, ContextBlock{
			Index:        len(packed.Blocks) + 1,
			DocumentID:   sc.Chunk.DocID,
			DocumentName: name,
			Page:         sc.Chunk.Page,
			Score:        sc.Score,
			Text:         sc.Chunk.Text,
		})
		packed.Citations = append(packed.Citations, domain.Citation{
			DocumentID:   sc.Chunk.DocID,
			DocumentName: name,
			ChunkID:      sc.Chunk.ID,
			Seq:          sc.Chunk.Seq,
			Page:         sc.Chunk.Page,
			Score:        sc.Score,
		})
	}

	return packed
}

func (u *PackUseCase) measure(text string) int {
	if u.unit == BudgetTokens && u.tokenizer != nil {
		return u.tokenizer.CountTokens(text)
	}
	return utf8.RuneCountInString(text)
}

// documentName falls back to the id for a document deleted mid-query.
func (u *PackUseCase) documentName(id string) string {
	doc, err := u.docs.GetDocument(id)
	if err != nil || doc.Name == "" {
		return id
	}
	return doc.Name
}
