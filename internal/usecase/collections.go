package usecase

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"ragchat/internal/domain"
	"ragchat/internal/port"
)

// CollectionUseCase manages named groups of documents.
type CollectionUseCase struct {
	store port.CollectionStore
	now   func() time.Time
	newID func() string
}

func NewCollectionUseCase(store port.CollectionStore) *CollectionUseCase {
	return &CollectionUseCase{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

func (u *CollectionUseCase) Create(name, owner string, docIDs []string) (domain.Collection, error) {
	name, err := collectionName(name)
	if err != nil {
		return domain.Collection{}, err
	}
	now := u.now()
	c := domain.Collection{
		ID:          u.newID(),
		Name:        name,
		Owner:       owner,
		DocumentIDs: dedupe(nil, docIDs),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := u.store.PutCollection(c); err != nil {
		return domain.Collection{}, err
	}
	return c, nil
}

func (u *CollectionUseCase) Get(id string) (domain.Collection, error) {
	return u.store.GetCollection(id)
}

func (u *CollectionUseCase) List(owner string) ([]domain.Collection, error) {
	return u.store.ListCollections(owner)
}

func (u *CollectionUseCase) Rename(id, name string) (domain.Collection, error) {
	name, err := collectionName(name)
	if err != nil {
		return domain.Collection{}, err
	}
	return u.store.UpdateCollection(id, func(c *domain.Collection) error {
		c.Name = name
		return nil
	})
}

// Delete removes the collection. Its documents are kept.
func (u *CollectionUseCase) Delete(id string) error {
	return u.store.DeleteCollection(id)
}

// AddDocuments adds references; ids already present are ignored. Every id
// must name an existing document.
func (u *CollectionUseCase) AddDocuments(id string, docIDs ...string) (domain.Collection, error) {
	return u.store.UpdateCollection(id, func(c *domain.Collection) error {
		c.DocumentIDs = dedupe(c.DocumentIDs, docIDs)
		return nil
	})
}

// RemoveDocuments drops references; ids not present are ignored.
func (u *CollectionUseCase) RemoveDocuments(id string, docIDs ...string) (domain.Collection, error) {
	drop := make(map[string]bool, len(docIDs))
	for _, d := range docIDs {
		drop[d] = true
	}
	return u.store.UpdateCollection(id, func(c *domain.Collection) error {
		kept := make([]string, 0, len(c.DocumentIDs))
		for _, d := range c.DocumentIDs {
			if !drop[d] {
				kept = append(kept, d)
			}
		}
		c.DocumentIDs = kept
		return nil
	})
}

func collectionName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: collection name is required", domain.ErrInvalidArgument)
	}
	return name, nil
}

// dedupe appends the ids of add missing from base, keeping first-seen order.
func dedupe(base, add []string) []string {
	seen := make(map[string]bool, len(base)+len(add))
	out := make([]string, 0, len(base)+len(add))
	for _, list := range [][]string{base, add} {
		for _, id := range list {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
