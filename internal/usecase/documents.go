package usecase

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"ragchat/internal/domain"
	"ragchat/internal/port"
)

// UploadRequest carries one uploaded document.
type UploadRequest struct {
	// ID re-uploads over an existing document when set.
	ID     string
	Name   string
	Owner  string
	Format string
	Data   []byte
}

// DocumentUseCase handles uploads, status queries and deletion.
type DocumentUseCase struct {
	docs    port.DocumentStore
	vectors port.VectorStore
	ingest  *IngestUseCase
	now     func() time.Time
	newID   func() string
}

// NewDocumentUseCase creates a new document use case.
func NewDocumentUseCase(docs port.DocumentStore, vectors port.VectorStore, ingest *IngestUseCase) *DocumentUseCase {
	return &DocumentUseCase{
		docs:    docs,
		vectors: vectors,
		ingest:  ingest,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// Upload stores the document as Pending and queues it for ingestion.
// It returns as soon as the document is queued.
func (u *DocumentUseCase) Upload(req UploadRequest) (domain.Document, error) {
	var previous *snapshot
	if req.ID != "" {
		var err error
		if previous, err = u.snapshot(req.ID); err != nil {
			return domain.Document{}, err
		}
	}

	doc, err := u.Store(req)
	if err != nil {
		return doc, err
	}
	if err := u.ingest.Submit(doc.ID); err != nil {
		// Nothing was queued. A retried upload must not leave a duplicate,
		// and a rejected re-upload must not leave an unqueued Pending
		// document in place of the previous version.
		if req.ID == "" {
			_ = u.docs.DeleteDocument(doc.ID)
		} else if rerr := u.restore(doc.ID, previous); rerr != nil {
			return domain.Document{}, errors.Join(err, fmt.Errorf("restore previous version: %w", rerr))
		}
		return domain.Document{}, err
	}
	return doc, nil
}

// snapshot is a stored document and its source. A nil snapshot means the
// document did not exist.
type snapshot struct {
	doc    domain.Document
	source []byte
}

func (u *DocumentUseCase) snapshot(id string) (*snapshot, error) {
	doc, err := u.docs.GetDocument(id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	source, err := u.docs.GetSource(id)
	if err != nil {
		return nil, err
	}
	return &snapshot{doc: doc, source: source}, nil
}

func (u *DocumentUseCase) restore(id string, previous *snapshot) error {
	return u.ingest.Exclusive(id, func() error {
		if previous == nil {
			return u.docs.DeleteDocument(id)
		}
		return u.docs.PutDocument(previous.doc, previous.source)
	})
}

// Store persists the document as Pending without queueing it. Callers that
// ingest synchronously pass the returned id to IngestUseCase.Ingest.
func (u *DocumentUseCase) Store(req UploadRequest) (domain.Document, error) {
	format, err := domain.ParseFormat(req.Format)
	if err != nil {
		return domain.Document{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Document{}, fmt.Errorf("%w: document name is required", domain.ErrInvalidArgument)
	}

	now := u.now()
	doc := domain.Document{
		ID:          req.ID,
		Name:        name,
		Owner:       req.Owner,
		Format:      format,
		Status:      domain.StatusPending,
		ContentHash: ContentHash(req.Data),
		Size:        int64(len(req.Data)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if doc.ID == "" {
		doc.ID = u.newID()
		if err := u.docs.PutDocument(doc, req.Data); err != nil {
			return domain.Document{}, fmt.Errorf("store document: %w", err)
		}
		return doc, nil
	}

	// Re-upload under the same id. Stored chunks stay visible until the
	// new ingestion commits.
	err = u.ingest.Exclusive(doc.ID, func() error {
		existing, err := u.docs.GetDocument(doc.ID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if err == nil {
			doc.CreatedAt = existing.CreatedAt
			doc.Attempts = existing.Attempts
			doc.ChunkCount = existing.ChunkCount
		}
		return u.docs.PutDocument(doc, req.Data)
	})
	if err != nil {
		return domain.Document{}, err
	}
	return doc, nil
}

// ContentHash is the hex sha256 recorded on every stored document.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Get returns the document's current status.
func (u *DocumentUseCase) Get(id string) (domain.Document, error) {
	return u.docs.GetDocument(id)
}

// List returns documents of owner, or all documents for an empty owner.
func (u *DocumentUseCase) List(owner string) ([]domain.Document, error) {
	return u.docs.ListDocuments(owner)
}

// Chunks returns the stored chunks of a document.
func (u *DocumentUseCase) Chunks(id string) ([]domain.Chunk, error) {
	if _, err := u.docs.GetDocument(id); err != nil {
		return nil, err
	}
	return u.vectors.ChunksByDocument(id)
}

// Delete removes the document, its chunks and its collection memberships.
// It fails with ErrAlreadyProcessing while the document is being ingested.
func (u *DocumentUseCase) Delete(id string) error {
	return u.ingest.Exclusive(id, func() error {
		if _, err := u.docs.GetDocument(id); err != nil {
			return err
		}
		// Chunks go first so a crash in between leaves a document without
		// chunks, which reingest repairs, rather than orphan chunks.
		if err := u.vectors.DeleteDocument(id); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		return u.docs.DeleteDocument(id)
	})
}

// Reingest marks the document Pending and queues it again.
func (u *DocumentUseCase) Reingest(id string) (domain.Document, error) {
	var doc domain.Document
	err := u.ingest.Exclusive(id, func() error {
		var err error
		doc, err = u.docs.GetDocument(id)
		if err != nil {
			return err
		}
		doc.Status = domain.StatusPending
		doc.UpdatedAt = u.now()
		return u.docs.UpdateDocument(doc)
	})
	if err != nil {
		return domain.Document{}, err
	}
	if err := u.ingest.Submit(id); err != nil {
		return domain.Document{}, err
	}
	return doc, nil
}
