package port

import "ragchat/internal/domain"

type DocumentStore interface {
	PutDocument(doc domain.Document, source []byte) error

	GetDocument(id string) (domain.Document, error)

	UpdateDocument(doc domain.Document) error

	GetSource(id string) ([]byte, error)

	ListDocuments(owner string) ([]domain.Document, error)

	// DeleteDocument removes the document, its source and its collection memberships.
	DeleteDocument(id string) error
}

type CollectionStore interface {
	PutCollection(c domain.Collection) error

	GetCollection(id string) (domain.Collection, error)

	ListCollections(owner string) ([]domain.Collection, error)

	// UpdateCollection applies fn to the stored collection inside one transaction.
	// It fails with domain.ErrNotFound if the result references a missing document.
	UpdateCollection(id string, fn func(c *domain.Collection) error) (domain.Collection, error)

	DeleteCollection(id string) error
}
