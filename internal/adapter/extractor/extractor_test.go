package extractor

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"ragchat/internal/domain"
)

// minimalPDF builds a valid PDF with one Helvetica text line per page.
func minimalPDF(pageTexts ...string) []byte {
	var objs []string
	n := len(pageTexts)
	// 1 catalog, 2 pages, 3 font, then (page, content) pairs.
	kids := ""
	for i := 0; i < n; i++ {
		kids += fmt.Sprintf("%d 0 R ", 4+2*i)
	}
	objs = append(objs,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, n),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	)
	for i, text := range pageTexts {
		stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		objs = append(objs,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		)
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, body := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

func TestTextPagesSplitOnFormFeed(t *testing.T) {
	r := NewRegistry()
	pages, err := r.Extract([]byte("\xEF\xBB\xBFfirst page\r\nline two\fsecond page"), domain.FormatText)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, domain.Page{Number: 1, Text: "first page\nline two"}, pages[0])
	assert.Equal(t, domain.Page{Number: 2, Text: "second page"}, pages[1])
}

func TestTextEmptyIsOneEmptyPage(t *testing.T) {
	pages, err := NewRegistry().Extract(nil, domain.FormatText)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Empty(t, pages[0].Text)
}

func TestTextInvalidUTF8IsCorrupt(t *testing.T) {
	_, err := NewRegistry().Extract([]byte{0xff, 0xfe, 'a'}, domain.FormatText)
	require.ErrorIs(t, err, domain.ErrCorruptInput)
}

func TestUnsupportedFormat(t *testing.T) {
	_, err := NewRegistry().Extract([]byte("x"), domain.Format("docx"))
	require.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestPDFGarbageIsCorrupt(t *testing.T) {
	_, err := NewRegistry().Extract([]byte("this is not a pdf at all"), domain.FormatPDF)
	require.ErrorIs(t, err, domain.ErrCorruptInput)
}

func TestPDFTruncatedIsCorrupt(t *testing.T) {
	data := minimalPDF("Hello")
	_, err := NewRegistry().Extract(data[:len(data)/2], domain.FormatPDF)
	require.ErrorIs(t, err, domain.ErrCorruptInput)
}

func TestPDFPagesInOrder(t *testing.T) {
	pages, err := NewRegistry().Extract(minimalPDF("Alpha page", "Beta page"), domain.FormatPDF)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, 1, pages[0].Number)
	assert.Contains(t, pages[0].Text, "Alpha")
	assert.Equal(t, 2, pages[1].Number)
	assert.Contains(t, pages[1].Text, "Beta")
}

func TestSanitizeRemovesControls(t *testing.T) {
	assert.Equal(t, "a\nb\tc", sanitize("a\fb\t\x00c\x07"))
}
