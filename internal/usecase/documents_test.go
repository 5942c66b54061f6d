package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"ragchat/config"
	"ragchat/internal/domain"
)

func TestDeleteRemovesChunksAndMemberships(t *testing.T) {
	env := newTestEnv(t)
	a := env.ingestText(t, "a.txt", page("apple", 1200))
	b := env.ingestText(t, "b.txt", "banana bread recipe")

	c, err := env.collections.Create("fruit", "", []string{a.ID, b.ID})
	require.NoError(t, err)

	require.NoError(t, env.docs.Delete(a.ID))

	_, err = env.docs.Get(a.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
	chunks, err := env.vectors.ChunksByDocument(a.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)
	assert.Equal(t, b.ChunkCount, env.vectors.Count())

	c, err = env.collections.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, c.DocumentIDs)

	require.ErrorIs(t, env.docs.Delete(a.ID), domain.ErrNotFound)
}

func TestReingestQueuesDocument(t *testing.T) {
	env := newTestEnv(t)
	doc := env.ingestText(t, "a.txt", "hello")

	doc, err := env.docs.Reingest(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, doc.Status)
	assert.Equal(t, domain.StatusPending, env.status(t, doc.ID))

	_, err = env.docs.Reingest("missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStoreComputesHashAndSize(t *testing.T) {
	env := newTestEnv(t)
	doc, err := env.docs.Store(UploadRequest{Name: " notes ", Format: "md", Data: []byte("abc")})
	require.NoError(t, err)
	assert.Equal(t, "notes", doc.Name)
	assert.Equal(t, domain.FormatText, doc.Format)
	assert.Equal(t, int64(3), doc.Size)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", doc.ContentHash)

	_, err = env.docs.Store(UploadRequest{Name: "", Format: "text", Data: []byte("abc")})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestCollectionOperations(t *testing.T) {
	env := newTestEnv(t)
	a := env.ingestText(t, "a.txt", "a")
	b := env.ingestText(t, "b.txt", "b")

	c, err := env.collections.Create("papers", "alice", nil)
	require.NoError(t, err)
	assert.Empty(t, c.DocumentIDs)

	c, err = env.collections.AddDocuments(c.ID, a.ID, b.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, b.ID}, c.DocumentIDs)

	_, err = env.collections.AddDocuments(c.ID, "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)

	c, err = env.collections.RemoveDocuments(c.ID, a.ID, "never-there")
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, c.DocumentIDs)

	c, err = env.collections.Rename(c.ID, "  reading list ")
	require.NoError(t, err)
	assert.Equal(t, "reading list", c.Name)
	_, err = env.collections.Rename(c.ID, " ")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	list, err := env.collections.List("alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	list, err = env.collections.List("bob")
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, env.collections.Delete(c.ID))
	_, err = env.docs.Get(b.ID)
	require.NoError(t, err, "deleting a collection keeps its documents")
	require.ErrorIs(t, env.collections.Delete(c.ID), domain.ErrNotFound)
}

func TestRejectedReuploadKeepsPreviousVersion(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.Ingest.QueueSize = 1 })
	doc := env.ingestText(t, "guide.txt", "first version")

	// Workers are not started, so this upload fills the queue.
	_, err := env.docs.Upload(UploadRequest{Name: "other.txt", Format: "text", Data: []byte("other")})
	require.NoError(t, err)

	_, err = env.docs.Upload(UploadRequest{ID: doc.ID, Name: "guide.txt", Format: "text", Data: []byte("second version")})
	require.ErrorIs(t, err, domain.ErrOverloaded)

	stored, err := env.docs.Get(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, stored.Status)
	assert.Equal(t, doc.ContentHash, stored.ContentHash)
	source, err := env.store.GetSource(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "first version", string(source))

	// A rejected upload under a new client-chosen id leaves nothing behind.
	_, err = env.docs.Upload(UploadRequest{ID: "fresh", Name: "fresh.txt", Format: "text", Data: []byte("x")})
	require.ErrorIs(t, err, domain.ErrOverloaded)
	_, err = env.docs.Get("fresh")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
