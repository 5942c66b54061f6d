package extractor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"ragchat/internal/domain"
)

// PDFExtractor extracts the text layer of each page. Pages without text
// (scans, images) come back empty; no OCR is attempted.
type PDFExtractor struct{}

func (PDFExtractor) Extract(data []byte) (pages []domain.Page, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("%w: pdf parser: %v", domain.ErrCorruptInput, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %v", domain.ErrCorruptInput, err)
	}

	n := r.NumPage()
	if n == 0 {
		return nil, fmt.Errorf("%w: pdf has no pages", domain.ErrCorruptInput)
	}

	pages = make([]domain.Page, 0, n)
	for i := 1; i <= n; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, domain.Page{Number: i})
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", domain.ErrCorruptInput, i, err)
		}
		pages = append(pages, domain.Page{Number: i, Text: strings.TrimSpace(sanitize(text))})
	}
	return pages, nil
}
