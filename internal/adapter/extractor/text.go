package extractor

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"ragchat/internal/domain"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// TextExtractor reads UTF-8 text. A form feed starts a new page.
type TextExtractor struct{}

func (TextExtractor) Extract(data []byte) ([]domain.Page, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: text is not valid UTF-8", domain.ErrCorruptInput)
	}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	parts := strings.Split(text, PageSeparator)
	pages := make([]domain.Page, 0, len(parts))
	for i, part := range parts {
		pages = append(pages, domain.Page{Number: i + 1, Text: sanitize(part)})
	}
	return pages, nil
}
