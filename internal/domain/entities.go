package domain

import (
	"fmt"
	"strings"
	"time"
)

// Format is the declared format of an uploaded document.
type Format string

const (
	FormatText Format = "text"
	FormatPDF  Format = "pdf"
)

// ParseFormat maps a declared format tag (or its MIME type / extension) onto
// the closed set of supported formats.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "txt", "plain", "text/plain", "md", "markdown", "text/markdown":
		return FormatText, nil
	case "pdf", "application/pdf":
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// Status is the ingestion state of a Document.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

type Document struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Owner        string    `json:"owner"`
	Format       Format    `json:"format"`
	Status       Status    `json:"status"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ContentHash  string    `json:"content_hash"`
	Size         int64     `json:"size"`
	ChunkCount   int       `json:"chunk_count"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Page is one page of extracted plain text. Numbers start at 1.
type Page struct {
	Number int
	Text   string
}

// Chunk is a bounded slice of a document's text. Start and End are rune
// offsets into the page-joined text of the document.
type Chunk struct {
	ID     string    `json:"id"`
	DocID  string    `json:"doc_id"`
	Seq    int       `json:"seq"`
	Page   int       `json:"page"`
	Start  int       `json:"start"`
	End    int       `json:"end"`
	Text   string    `json:"text"`
	Vector []float32 `json:"-"`
}

type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

type Collection struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Owner       string    `json:"owner"`
	DocumentIDs []string  `json:"document_ids"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Has reports whether the collection references docID.
func (c Collection) Has(docID string) bool {
	for _, id := range c.DocumentIDs {
		if id == docID {
			return true
		}
	}
	return false
}

// Scope restricts retrieval. The zero value means the whole store.
type Scope struct {
	DocumentIDs  []string `json:"document_ids,omitempty"`
	CollectionID string   `json:"collection_id,omitempty"`
}

func (s Scope) IsZero() bool {
	return len(s.DocumentIDs) == 0 && s.CollectionID == ""
}

type QueryRequest struct {
	Text      string   `json:"text"`
	Scope     Scope    `json:"scope"`
	TopK      int      `json:"top_k,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

type Citation struct {
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	ChunkID      string  `json:"chunk_id"`
	Seq          int     `json:"seq"`
	Page         int     `json:"page"`
	Score        float64 `json:"score"`
}

type Answer struct {
	Text      string     `json:"answer"`
	Model     string     `json:"model"`
	Citations []Citation `json:"citations"`
}

// Message is one chat turn sent to the completion API.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
