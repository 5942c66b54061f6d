package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"ragchat/internal/domain"
	"ragchat/internal/port"
)

// PageSeparator is placed between pages in the joined text that chunk
// offsets refer to.
const PageSeparator = "\f"

// WindowChunker slides a fixed window of runes over the page-joined text.
type WindowChunker struct {
	size     int
	overlap  int
	minChars int
}

var _ port.Chunker = (*WindowChunker)(nil)

// NewWindowChunker validates the window geometry. minChars is the floor for
// the last window; a shorter tail is widened backwards instead of dropped.
func NewWindowChunker(size, overlap, minChars int) (*WindowChunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size %d must be positive", domain.ErrInvalidConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", domain.ErrInvalidConfig, overlap, size)
	}
	if minChars < 1 {
		minChars = 1
	}
	if minChars > size {
		return nil, fmt.Errorf("%w: min chunk chars %d exceeds chunk size %d", domain.ErrInvalidConfig, minChars, size)
	}
	return &WindowChunker{size: size, overlap: overlap, minChars: minChars}, nil
}

// Chunk is pure: the same pages always give the same chunks, IDs included.
func (c *WindowChunker) Chunk(docID string, pages []domain.Page) ([]domain.Chunk, error) {
	text, pageStarts := join(pages)
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil, nil
	}

	step := c.size - c.overlap
	var chunks []domain.Chunk
	for start := 0; ; start += step {
		end := start + c.size
		if end > n {
			end = n
		}
		if end-start < c.minChars && start > 0 {
			start = end - c.minChars
		}

		part := string(runes[start:end])
		seq := len(chunks)
		chunks = append(chunks, domain.Chunk{
			ID:    generateChunkID(docID, seq, start, end, part),
			DocID: docID,
			Seq:   seq,
			Page:  pageAt(pageStarts, pages, start),
			Start: start,
			End:   end,
			Text:  part,
		})

		if end == n {
			break
		}
	}
	return chunks, nil
}

// join concatenates page text with PageSeparator and returns the rune
// offset at which each page begins.
func join(pages []domain.Page) (string, []int) {
	var b strings.Builder
	starts := make([]int, len(pages))
	offset := 0
	for i, p := range pages {
		if i > 0 {
			b.WriteString(PageSeparator)
			offset++
		}
		starts[i] = offset
		b.WriteString(p.Text)
		offset += len([]rune(p.Text))
	}
	return b.String(), starts
}

func pageAt(starts []int, pages []domain.Page, offset int) int {
	page := 0
	for i, s := range starts {
		if s > offset {
			break
		}
		page = i
	}
	if len(pages) == 0 {
		return 0
	}
	if pages[page].Number > 0 {
		return pages[page].Number
	}
	return page + 1
}

func generateChunkID(docID string, seq, start, end int, text string) string {
	textHash := sha256.Sum256([]byte(text))
	data := fmt.Sprintf("%s:%d:%d-%d:%s", docID, seq, start, end, hex.EncodeToString(textHash[:8]))
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:16])
}

// Reassemble rebuilds the joined text from an ordered chunk sequence by
// dropping each chunk's overlap with its predecessor.
func Reassemble(chunks []domain.Chunk) string {
	var b strings.Builder
	prevEnd := 0
	for i, ch := range chunks {
		runes := []rune(ch.Text)
		if i == 0 {
			b.WriteString(ch.Text)
		} else if skip := prevEnd - ch.Start; skip < len(runes) {
			b.WriteString(string(runes[skip:]))
		}
		prevEnd = ch.End
	}
	return b.String()
}
