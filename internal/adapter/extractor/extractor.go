// Package extractor turns uploaded bytes into page-ordered plain text.
package extractor

import (
	"fmt"
	"strings"

	"ragchat/internal/domain"
	"ragchat/internal/port"
)

// PageSeparator joins pages in the chunker's concatenated text.
// Extracted page text never contains it.
const PageSeparator = "\f"

// FormatExtractor handles one declared format.
type FormatExtractor interface {
	Extract(data []byte) ([]domain.Page, error)
}

// Registry dispatches on the declared format. Bytes are never sniffed.
type Registry struct {
	byFormat map[domain.Format]FormatExtractor
}

var _ port.Extractor = (*Registry)(nil)

// NewRegistry returns a registry with the text and PDF extractors.
func NewRegistry() *Registry {
	return &Registry{byFormat: map[domain.Format]FormatExtractor{
		domain.FormatText: TextExtractor{},
		domain.FormatPDF:  PDFExtractor{},
	}}
}

// Register installs or replaces the extractor for format.
func (r *Registry) Register(format domain.Format, e FormatExtractor) {
	r.byFormat[format] = e
}

func (r *Registry) Extract(data []byte, format domain.Format) ([]domain.Page, error) {
	e, ok := r.byFormat[format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, format)
	}
	return e.Extract(data)
}

// sanitize drops NULs and other control characters except common whitespace.
// Form feeds become newlines, since they separate pages downstream.
func sanitize(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		switch {
		case ch == '\f':
			b.WriteByte('\n')
		case ch == '\n' || ch == '\r' || ch == '\t':
			b.WriteRune(ch)
		case ch < 0x20 || ch == 0x7f:
			// drop
		default:
			b.WriteRune(ch)
		}
	}
	return b.String()
}
