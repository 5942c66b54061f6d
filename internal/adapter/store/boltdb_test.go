package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"ragchat/config"
	"ragchat/internal/domain"
)

func openTestStore(t *testing.T) (*BoltStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ragchat.db")
	s, err := NewBoltStore(path, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func testDoc(id, owner string, created time.Time) domain.Document {
	return domain.Document{
		ID:        id,
		Name:      id + ".txt",
		Owner:     owner,
		Format:    domain.FormatText,
		Status:    domain.StatusPending,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestDocumentLifecycle(t *testing.T) {
	s, _ := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.PutDocument(testDoc("d1", "alice", now), []byte("hello")))
	require.NoError(t, s.PutDocument(testDoc("d2", "bob", now.Add(time.Second)), []byte("world")))

	doc, err := s.GetDocument("d1")
	require.NoError(t, err)
	assert.Equal(t, "alice", doc.Owner)
	assert.True(t, doc.CreatedAt.Equal(now))

	src, err := s.GetSource("d2")
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), src)

	doc.Status = domain.StatusReady
	doc.ChunkCount = 3
	require.NoError(t, s.UpdateDocument(doc))
	doc, err = s.GetDocument("d1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, doc.Status)

	all, err := s.ListDocuments("")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "d1", all[0].ID)

	bobs, err := s.ListDocuments("bob")
	require.NoError(t, err)
	require.Len(t, bobs, 1)
	assert.Equal(t, "d2", bobs[0].ID)

	require.NoError(t, s.DeleteDocument("d1"))
	_, err = s.GetDocument("d1")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.GetSource("d1")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, s.DeleteDocument("d1"), "delete is idempotent")

	err = s.UpdateDocument(testDoc("ghost", "", now))
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCollectionMembership(t *testing.T) {
	s, _ := openTestStore(t)
	now := time.Now().UTC()
	require.NoError(t, s.PutDocument(testDoc("d1", "", now), nil))
	require.NoError(t, s.PutDocument(testDoc("d2", "", now), nil))

	require.NoError(t, s.PutCollection(domain.Collection{ID: "c1", Name: "papers", DocumentIDs: []string{"d1"}}))

	c, err := s.UpdateCollection("c1", func(c *domain.Collection) error {
		c.DocumentIDs = append(c.DocumentIDs, "d2")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d2"}, c.DocumentIDs)

	_, err = s.UpdateCollection("c1", func(c *domain.Collection) error {
		c.DocumentIDs = append(c.DocumentIDs, "missing")
		return nil
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
	c, err = s.GetCollection("c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d2"}, c.DocumentIDs, "failed update leaves collection untouched")

	// Deleting a document removes it from collections.
	require.NoError(t, s.DeleteDocument("d1"))
	c, err = s.GetCollection("c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"d2"}, c.DocumentIDs)

	// Deleting a collection keeps its documents.
	require.NoError(t, s.DeleteCollection("c1"))
	_, err = s.GetDocument("d2")
	require.NoError(t, err)
	_, err = s.GetCollection("c1")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.ErrorIs(t, s.DeleteCollection("c1"), domain.ErrNotFound)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ragchat.db")
	s, err := NewBoltStore(path, time.Second)
	require.NoError(t, err)
	require.NoError(t, s.PutDocument(testDoc("d1", "", time.Now().UTC()), []byte("x")))
	require.NoError(t, s.PutCollection(domain.Collection{ID: "c1", Name: "n", DocumentIDs: []string{"d1"}}))
	require.NoError(t, s.Close())

	s, err = NewBoltStore(path, time.Second)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.GetDocument("d1")
	require.NoError(t, err)
	c, err := s.GetCollection("c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, c.DocumentIDs)
}

func TestMigrationFingerprint(t *testing.T) {
	s, _ := openTestStore(t)
	cfg := config.DefaultConfig()

	res, err := s.CheckMigration(cfg)
	require.NoError(t, err)
	assert.True(t, res.NeedsMigration)
	assert.False(t, res.NeedsReindex)

	require.NoError(t, s.Migrate(cfg))
	res, err = s.CheckMigration(cfg)
	require.NoError(t, err)
	assert.False(t, res.NeedsMigration)
	assert.False(t, res.NeedsReindex)

	cfg.Embedding.Model = "another-model"
	res, err = s.CheckMigration(cfg)
	require.NoError(t, err)
	assert.True(t, res.NeedsReindex)
}
