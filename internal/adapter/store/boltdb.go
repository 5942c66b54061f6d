package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
	"ragchat/internal/domain"
	"ragchat/internal/port"
)

var (
	bucketDocs        = []byte("docs")
	bucketSources     = []byte("sources")
	bucketCollections = []byte("collections")
	bucketChunks      = []byte("chunks")
	bucketVectors     = []byte("vectors")
	bucketDocChunks   = []byte("doc_chunks")
	bucketMeta        = []byte("meta")
)

var allBuckets = [][]byte{bucketDocs, bucketSources, bucketCollections, bucketChunks, bucketVectors, bucketDocChunks, bucketMeta}

var (
	_ port.DocumentStore   = (*BoltStore)(nil)
	_ port.CollectionStore = (*BoltStore)(nil)
)

// BoltStore persists documents, their source bytes and collections.
// The same database file holds the vector store's buckets.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) the database at path. timeout bounds the
// wait for the file lock held by another process.
func NewBoltStore(path string, timeout time.Duration) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) DB() *bbolt.DB {
	return s.db
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) PutDocument(doc domain.Document, source []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketDocs).Put([]byte(doc.ID), data); err != nil {
			return err
		}
		return tx.Bucket(bucketSources).Put([]byte(doc.ID), source)
	})
}

func (s *BoltStore) GetDocument(id string) (domain.Document, error) {
	var doc domain.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		doc, err = getDocument(tx, id)
		return err
	})
	return doc, err
}

func getDocument(tx *bbolt.Tx, id string) (domain.Document, error) {
	var doc domain.Document
	data := tx.Bucket(bucketDocs).Get([]byte(id))
	if data == nil {
		return doc, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("decode document %s: %w", id, err)
	}
	return doc, nil
}

// UpdateDocument overwrites the metadata of an existing document.
func (s *BoltStore) UpdateDocument(doc domain.Document) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDocs)
		if b.Get([]byte(doc.ID)) == nil {
			return fmt.Errorf("document %s: %w", doc.ID, domain.ErrNotFound)
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		return b.Put([]byte(doc.ID), data)
	})
}

func (s *BoltStore) GetSource(id string) ([]byte, error) {
	var source []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSources).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("source of document %s: %w", id, domain.ErrNotFound)
		}
		// Bolt memory is only valid inside the transaction.
		source = append([]byte(nil), data...)
		return nil
	})
	return source, err
}

// ListDocuments returns documents oldest first. An empty owner lists all.
func (s *BoltStore) ListDocuments(owner string) ([]domain.Document, error) {
	var docs []domain.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDocs).ForEach(func(k, v []byte) error {
			var doc domain.Document
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("decode document %s: %w", k, err)
			}
			if owner == "" || doc.Owner == owner {
				docs = append(docs, doc)
			}
			return nil
		})
	})
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})
	return docs, err
}

// DeleteDocument removes the document, its source and every collection
// reference to it in one transaction. Absent documents are a no-op.
func (s *BoltStore) DeleteDocument(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		key := []byte(id)
		if err := tx.Bucket(bucketDocs).Delete(key); err != nil {
			return err
		}
		if err := tx.Bucket(bucketSources).Delete(key); err != nil {
			return err
		}

		colls := tx.Bucket(bucketCollections)
		type rewrite struct {
			key  []byte
			data []byte
		}
		var rewrites []rewrite
		err := colls.ForEach(func(k, v []byte) error {
			var c domain.Collection
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("decode collection %s: %w", k, err)
			}
			if !c.Has(id) {
				return nil
			}
			kept := c.DocumentIDs[:0]
			for _, d := range c.DocumentIDs {
				if d != id {
					kept = append(kept, d)
				}
			}
			c.DocumentIDs = kept
			c.UpdatedAt = time.Now().UTC()
			data, err := json.Marshal(c)
			if err != nil {
				return err
			}
			rewrites = append(rewrites, rewrite{key: append([]byte(nil), k...), data: data})
			return nil
		})
		if err != nil {
			return err
		}
		// Bolt forbids mutating a bucket while iterating it.
		for _, r := range rewrites {
			if err := colls.Put(r.key, r.data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) PutCollection(c domain.Collection) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := checkMembers(tx, c.DocumentIDs); err != nil {
			return err
		}
		return putCollection(tx, c)
	})
}

func putCollection(tx *bbolt.Tx, c domain.Collection) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketCollections).Put([]byte(c.ID), data)
}

func checkMembers(tx *bbolt.Tx, ids []string) error {
	docs := tx.Bucket(bucketDocs)
	for _, id := range ids {
		if docs.Get([]byte(id)) == nil {
			return fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
		}
	}
	return nil
}

func (s *BoltStore) GetCollection(id string) (domain.Collection, error) {
	var c domain.Collection
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		c, err = getCollection(tx, id)
		return err
	})
	return c, err
}

func getCollection(tx *bbolt.Tx, id string) (domain.Collection, error) {
	var c domain.Collection
	data := tx.Bucket(bucketCollections).Get([]byte(id))
	if data == nil {
		return c, fmt.Errorf("collection %s: %w", id, domain.ErrNotFound)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("decode collection %s: %w", id, err)
	}
	return c, nil
}

// ListCollections returns collections sorted by name. An empty owner lists all.
func (s *BoltStore) ListCollections(owner string) ([]domain.Collection, error) {
	var out []domain.Collection
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCollections).ForEach(func(k, v []byte) error {
			var c domain.Collection
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("decode collection %s: %w", k, err)
			}
			if owner == "" || c.Owner == owner {
				out = append(out, c)
			}
			return nil
		})
	})
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, err
}

func (s *BoltStore) UpdateCollection(id string, fn func(c *domain.Collection) error) (domain.Collection, error) {
	var updated domain.Collection
	err := s.db.Update(func(tx *bbolt.Tx) error {
		c, err := getCollection(tx, id)
		if err != nil {
			return err
		}
		if err := fn(&c); err != nil {
			return err
		}
		if err := checkMembers(tx, c.DocumentIDs); err != nil {
			return err
		}
		c.ID = id
		c.UpdatedAt = time.Now().UTC()
		updated = c
		return putCollection(tx, c)
	})
	return updated, err
}

// DeleteCollection removes the collection only; its documents stay.
func (s *BoltStore) DeleteCollection(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCollections)
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("collection %s: %w", id, domain.ErrNotFound)
		}
		return b.Delete([]byte(id))
	})
}
