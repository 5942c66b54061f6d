package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
	"ragchat/internal/domain"
	"ragchat/internal/logging"
	"ragchat/internal/port"
)

func openVectorStore(t *testing.T) (*BoltStore, *BoltVectorStore, string) {
	t.Helper()
	s, path := openTestStore(t)
	vs, err := NewBoltVectorStore(s.DB(), logging.Discard())
	require.NoError(t, err)
	return s, vs, path
}

func makeChunks(docID, version string, vectors ...[]float32) []domain.Chunk {
	out := make([]domain.Chunk, len(vectors))
	for i, v := range vectors {
		out[i] = domain.Chunk{
			ID:     fmt.Sprintf("%s-%s-%d", docID, version, i),
			DocID:  docID,
			Seq:    i,
			Page:   1,
			Start:  i * 10,
			End:    i*10 + 10,
			Text:   fmt.Sprintf("%s %s chunk %d", docID, version, i),
			Vector: v,
		}
	}
	return out
}

func ids(results []domain.ScoredChunk) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Chunk.ID
	}
	return out
}

func TestSearchOrderingAndThreshold(t *testing.T) {
	_, vs, _ := openVectorStore(t)

	require.NoError(t, vs.Upsert("a", makeChunks("a", "v1",
		[]float32{1, 0}, // score 1
		[]float32{0, 1}, // score 0
	)))
	require.NoError(t, vs.Upsert("b", makeChunks("b", "v1",
		[]float32{1, 1},   // score ~0.707
		[]float32{2, 0},   // score 1, inserted after a-v1-0
		[]float32{-1, 0}, // score -1
	)))

	res, err := vs.Search([]float32{1, 0}, 10, port.SearchFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a-v1-0", "b-v1-1", "b-v1-0", "a-v1-1", "b-v1-2"}, ids(res))
	assert.InDelta(t, 1.0, res[0].Score, 1e-9)

	res, err = vs.Search([]float32{1, 0}, 2, port.SearchFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a-v1-0", "b-v1-1"}, ids(res))

	threshold := 0.5
	res, err = vs.Search([]float32{1, 0}, 10, port.SearchFilter{Threshold: &threshold})
	require.NoError(t, err)
	assert.Equal(t, []string{"a-v1-0", "b-v1-1", "b-v1-0"}, ids(res))

	res, err = vs.Search([]float32{1, 0}, 10, port.SearchFilter{Scoped: true, DocIDs: []string{"b"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b-v1-1", "b-v1-0", "b-v1-2"}, ids(res))

	res, err = vs.Search([]float32{1, 0}, 10, port.SearchFilter{Scoped: true})
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestDimensionMismatch(t *testing.T) {
	_, vs, _ := openVectorStore(t)

	res, err := vs.Search([]float32{1, 2, 3}, 5, port.SearchFilter{})
	require.NoError(t, err, "empty store accepts any query")
	assert.Empty(t, res)

	require.NoError(t, vs.Upsert("a", makeChunks("a", "v1", []float32{1, 0})))

	_, err = vs.Search([]float32{1, 2, 3}, 5, port.SearchFilter{})
	require.ErrorIs(t, err, domain.ErrDimensionMismatch)

	err = vs.Upsert("b", makeChunks("b", "v1", []float32{1, 2, 3}))
	require.ErrorIs(t, err, domain.ErrDimensionMismatch)
	assert.Equal(t, 1, vs.Count(), "rejected upsert leaves no trace")
}

func TestUpsertIdempotent(t *testing.T) {
	_, vs, _ := openVectorStore(t)
	chunks := makeChunks("a", "v1", []float32{1, 0}, []float32{0.5, 0.5})
	require.NoError(t, vs.Upsert("b", makeChunks("b", "v1", []float32{1, 0})))

	require.NoError(t, vs.Upsert("a", chunks))
	first, err := vs.Search([]float32{1, 0}, 10, port.SearchFilter{})
	require.NoError(t, err)

	require.NoError(t, vs.Upsert("a", chunks))
	second, err := vs.Search([]float32{1, 0}, 10, port.SearchFilter{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 3, vs.Count())
}

func TestUpsertReplacesAndDeleteCascades(t *testing.T) {
	_, vs, _ := openVectorStore(t)

	require.NoError(t, vs.Upsert("a", makeChunks("a", "v1", []float32{1, 0}, []float32{0, 1}, []float32{1, 1})))
	require.NoError(t, vs.Upsert("a", makeChunks("a", "v2", []float32{1, 0})))

	chunks, err := vs.ChunksByDocument("a")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "a-v2-0", chunks[0].ID)

	require.NoError(t, vs.DeleteDocument("a"))
	require.NoError(t, vs.DeleteDocument("a"))
	assert.Zero(t, vs.Count())
}

func TestSearchNeverSeesMixedVersions(t *testing.T) {
	_, vs, _ := openVectorStore(t)

	v1 := makeChunks("a", "v1", []float32{1, 0}, []float32{0.9, 0.1}, []float32{0.8, 0.2})
	v2 := makeChunks("a", "v2", []float32{1, 0.1}, []float32{0.9, 0.2}, []float32{0.7, 0.3}, []float32{0.6, 0.4})
	require.NoError(t, vs.Upsert("a", v1))

	var stop atomic.Bool
	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				res, err := vs.Search([]float32{1, 0}, 10, port.SearchFilter{})
				if err != nil {
					errs <- err
					return
				}
				versions := map[string]bool{}
				for _, r := range res {
					versions[r.Chunk.Text[2:4]] = true
				}
				if len(versions) > 1 {
					errs <- fmt.Errorf("mixed versions in %v", ids(res))
					return
				}
				if n := len(res); n != 3 && n != 4 {
					errs <- fmt.Errorf("partial result of %d chunks", n)
					return
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		next := v2
		if i%2 == 1 {
			next = v1
		}
		require.NoError(t, vs.Upsert("a", next))
	}
	stop.Store(true)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestVectorsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ragchat.db")
	s, err := NewBoltStore(path, time.Second)
	require.NoError(t, err)
	vs, err := NewBoltVectorStore(s.DB(), logging.Discard())
	require.NoError(t, err)
	require.NoError(t, vs.Upsert("a", makeChunks("a", "v1", []float32{1, 0}, []float32{0, 1})))
	require.NoError(t, vs.Upsert("b", makeChunks("b", "v1", []float32{1, 0})))
	before, err := vs.Search([]float32{1, 0}, 10, port.SearchFilter{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewBoltStore(path, time.Second)
	require.NoError(t, err)
	defer s.Close()
	vs, err = NewBoltVectorStore(s.DB(), logging.Discard())
	require.NoError(t, err)

	after, err := vs.Search([]float32{1, 0}, 10, port.SearchFilter{})
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 2, vs.Dimension())
}

func TestCorruptIndexIsRebuiltOnOpen(t *testing.T) {
	s, vs, _ := openVectorStore(t)
	require.NoError(t, vs.Upsert("a", makeChunks("a", "v1", []float32{1, 0}, []float32{0, 1})))
	require.NoError(t, vs.Upsert("b", makeChunks("b", "v1", []float32{1, 1})))

	// Trash the derived index and lose one vector.
	require.NoError(t, s.DB().Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketDocChunks).Put([]byte("a"), []byte("{not json")); err != nil {
			return err
		}
		return tx.Bucket(bucketVectors).Delete([]byte("b-v1-0"))
	}))

	vs, err := NewBoltVectorStore(s.DB(), logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, 2, vs.Count())

	chunks, err := vs.ChunksByDocument("a")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 0, chunks[0].Seq)

	report, err := vs.Rebuild()
	require.NoError(t, err)
	assert.Equal(t, 1, report.Documents)
	assert.Empty(t, report.Unembedded, "broken chunk was already dropped by the first rebuild")

	require.NoError(t, s.DB().View(func(tx *bbolt.Tx) error {
		var listed []string
		require.NoError(t, json.Unmarshal(tx.Bucket(bucketDocChunks).Get([]byte("a")), &listed))
		assert.Equal(t, []string{"a-v1-0", "a-v1-1"}, listed)
		return nil
	}))
}

func TestRebuildReportsUnembedded(t *testing.T) {
	s, vs, _ := openVectorStore(t)
	require.NoError(t, vs.Upsert("a", makeChunks("a", "v1", []float32{1, 0})))
	require.NoError(t, vs.Upsert("b", makeChunks("b", "v1", []float32{1, 1})))
	require.NoError(t, s.DB().Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketVectors).Delete([]byte("b-v1-0"))
	}))

	report, err := vs.Rebuild()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, report.Unembedded)
	assert.Equal(t, 1, vs.Count())
}

func TestClear(t *testing.T) {
	_, vs, _ := openVectorStore(t)
	require.NoError(t, vs.Upsert("a", makeChunks("a", "v1", []float32{1, 0})))
	require.NoError(t, vs.Clear())
	assert.Zero(t, vs.Count())
	assert.Zero(t, vs.Dimension())
	require.NoError(t, vs.Upsert("a", makeChunks("a", "v1", []float32{1, 0, 0})))
	assert.Equal(t, 3, vs.Dimension())
}
