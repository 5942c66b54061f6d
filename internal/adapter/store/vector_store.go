package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
	"ragchat/internal/domain"
	"ragchat/internal/port"
)

var keyDimension = []byte("dimension")

var _ port.VectorStore = (*BoltVectorStore)(nil)

// BoltVectorStore implements VectorStore using BoltDB for persistence.
// Chunks and vectors in bolt are the source of truth; the in-memory index
// and the doc_chunks bucket are derived from them and can be rebuilt.
// Search is brute force over the in-memory index.
type BoltVectorStore struct {
	db  *bbolt.DB
	log logrus.FieldLogger

	writeMu sync.Mutex // orders commit+swap between writers

	mu        sync.RWMutex
	dimension int
	docs      map[string][]indexedChunk // per document, in sequence order
}

type indexedChunk struct {
	chunk domain.Chunk
	norm  float64
	ord   uint64
}

type storedChunk struct {
	DocID string `json:"doc_id"`
	Seq   int    `json:"seq"`
	Page  int    `json:"page"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
	Ord   uint64 `json:"ord"`
}

type storedVector struct {
	Vector []float32 `json:"v"`
}

// NewBoltVectorStore loads the index from db. If the derived structures are
// inconsistent with the stored chunks, they are rebuilt before returning.
func NewBoltVectorStore(db *bbolt.DB, log logrus.FieldLogger) (*BoltVectorStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketChunks, bucketVectors, bucketDocChunks, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create vector buckets: %w", err)
	}

	store := &BoltVectorStore{
		db:   db,
		log:  log,
		docs: make(map[string][]indexedChunk),
	}

	if err := store.load(); err != nil {
		log.WithError(err).Warn("vector index inconsistent, rebuilding from stored chunks")
		if _, err := store.Rebuild(); err != nil {
			return nil, fmt.Errorf("failed to rebuild vector index: %w", err)
		}
	}

	return store, nil
}

// load reads the index through doc_chunks and fails on any dangling entry.
func (s *BoltVectorStore) load() error {
	docs := make(map[string][]indexedChunk)
	var dimension int
	err := s.db.View(func(tx *bbolt.Tx) error {
		dimension = readDimension(tx)
		chunks := tx.Bucket(bucketChunks)
		vectors := tx.Bucket(bucketVectors)

		return tx.Bucket(bucketDocChunks).ForEach(func(k, v []byte) error {
			var ids []string
			if err := json.Unmarshal(v, &ids); err != nil {
				return fmt.Errorf("doc_chunks %s: %w", k, err)
			}
			entries := make([]indexedChunk, 0, len(ids))
			for _, id := range ids {
				entry, err := readEntry(chunks, vectors, id)
				if err != nil {
					return err
				}
				if entry.chunk.DocID != string(k) {
					return fmt.Errorf("chunk %s listed under %s belongs to %s", id, k, entry.chunk.DocID)
				}
				if dimension != 0 && len(entry.chunk.Vector) != dimension {
					return fmt.Errorf("chunk %s has %d dimensions, store has %d", id, len(entry.chunk.Vector), dimension)
				}
				entries = append(entries, entry)
			}
			docs[string(k)] = entries
			return nil
		})
	})
	if err != nil {
		return err
	}

	indexed := 0
	for _, entries := range docs {
		indexed += len(entries)
	}
	var stored int
	_ = s.db.View(func(tx *bbolt.Tx) error {
		stored = tx.Bucket(bucketChunks).Stats().KeyN
		return nil
	})
	if stored != indexed {
		return fmt.Errorf("index lists %d chunks, %d stored", indexed, stored)
	}

	s.mu.Lock()
	s.docs = docs
	s.dimension = dimension
	s.mu.Unlock()
	return nil
}

func readEntry(chunks, vectors *bbolt.Bucket, id string) (indexedChunk, error) {
	data := chunks.Get([]byte(id))
	if data == nil {
		return indexedChunk{}, fmt.Errorf("chunk %s missing", id)
	}
	var sc storedChunk
	if err := json.Unmarshal(data, &sc); err != nil {
		return indexedChunk{}, fmt.Errorf("chunk %s: %w", id, err)
	}
	vdata := vectors.Get([]byte(id))
	if vdata == nil {
		return indexedChunk{}, fmt.Errorf("vector of chunk %s missing", id)
	}
	var sv storedVector
	if err := json.Unmarshal(vdata, &sv); err != nil {
		return indexedChunk{}, fmt.Errorf("vector of chunk %s: %w", id, err)
	}
	chunk := domain.Chunk{
		ID:     id,
		DocID:  sc.DocID,
		Seq:    sc.Seq,
		Page:   sc.Page,
		Start:  sc.Start,
		End:    sc.End,
		Text:   sc.Text,
		Vector: sv.Vector,
	}
	return indexedChunk{chunk: chunk, norm: norm(sv.Vector), ord: sc.Ord}, nil
}

func readDimension(tx *bbolt.Tx) int {
	data := tx.Bucket(bucketMeta).Get(keyDimension)
	if len(data) != 8 {
		return 0
	}
	return int(binary.BigEndian.Uint64(data))
}

func writeDimension(tx *bbolt.Tx, dim int) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(dim))
	return tx.Bucket(bucketMeta).Put(keyDimension, buf)
}

// Upsert replaces every chunk of docID in one bolt transaction, then swaps
// the in-memory entry. Searches see the old set or the new set, never both.
// Chunk IDs that survive a re-upsert keep their insertion order.
func (s *BoltVectorStore) Upsert(docID string, chunks []domain.Chunk) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	dimension := s.dimension
	previous := make(map[string]uint64, len(s.docs[docID]))
	for _, e := range s.docs[docID] {
		previous[e.chunk.ID] = e.ord
	}
	s.mu.RUnlock()

	for _, c := range chunks {
		if c.DocID != docID {
			return fmt.Errorf("chunk %s belongs to %s, not %s", c.ID, c.DocID, docID)
		}
		if len(c.Vector) == 0 {
			return fmt.Errorf("chunk %s has no vector", c.ID)
		}
		if dimension == 0 {
			dimension = len(c.Vector)
		}
		if len(c.Vector) != dimension {
			return fmt.Errorf("%w: chunk %s has %d dimensions, store has %d", domain.ErrDimensionMismatch, c.ID, len(c.Vector), dimension)
		}
	}

	entries := make([]indexedChunk, 0, len(chunks))
	err := s.db.Update(func(tx *bbolt.Tx) error {
		chunkBucket := tx.Bucket(bucketChunks)
		vectorBucket := tx.Bucket(bucketVectors)

		if err := deleteDocChunks(tx, docID); err != nil {
			return err
		}

		ids := make([]string, 0, len(chunks))
		for _, c := range chunks {
			ord, ok := previous[c.ID]
			if !ok {
				next, err := chunkBucket.NextSequence()
				if err != nil {
					return err
				}
				ord = next
			}

			data, err := json.Marshal(storedChunk{
				DocID: c.DocID,
				Seq:   c.Seq,
				Page:  c.Page,
				Start: c.Start,
				End:   c.End,
				Text:  c.Text,
				Ord:   ord,
			})
			if err != nil {
				return err
			}
			if err := chunkBucket.Put([]byte(c.ID), data); err != nil {
				return err
			}

			vdata, err := json.Marshal(storedVector{Vector: c.Vector})
			if err != nil {
				return err
			}
			if err := vectorBucket.Put([]byte(c.ID), vdata); err != nil {
				return err
			}

			ids = append(ids, c.ID)
			entries = append(entries, indexedChunk{chunk: c, norm: norm(c.Vector), ord: ord})
		}

		if len(ids) > 0 {
			data, err := json.Marshal(ids)
			if err != nil {
				return err
			}
			if err := tx.Bucket(bucketDocChunks).Put([]byte(docID), data); err != nil {
				return err
			}
		}
		if len(chunks) > 0 && readDimension(tx) == 0 {
			return writeDimension(tx, dimension)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	if len(entries) == 0 {
		delete(s.docs, docID)
	} else {
		s.docs[docID] = entries
	}
	s.dimension = dimension
	s.mu.Unlock()
	return nil
}

// deleteDocChunks removes the chunks and vectors of docID listed in
// doc_chunks, plus any stray chunk records for docID.
func deleteDocChunks(tx *bbolt.Tx, docID string) error {
	chunkBucket := tx.Bucket(bucketChunks)
	vectorBucket := tx.Bucket(bucketVectors)
	index := tx.Bucket(bucketDocChunks)

	if data := index.Get([]byte(docID)); data != nil {
		var ids []string
		if err := json.Unmarshal(data, &ids); err == nil {
			for _, id := range ids {
				if err := chunkBucket.Delete([]byte(id)); err != nil {
					return err
				}
				if err := vectorBucket.Delete([]byte(id)); err != nil {
					return err
				}
			}
		}
		if err := index.Delete([]byte(docID)); err != nil {
			return err
		}
	}
	return nil
}

// DeleteDocument removes every chunk of docID. Absent documents are a no-op.
func (s *BoltVectorStore) DeleteDocument(docID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		return deleteDocChunks(tx, docID)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.docs, docID)
	s.mu.Unlock()
	return nil
}

// Search finds the topK chunks most similar to query by cosine similarity.
// Ties keep insertion order. An empty store yields no results.
func (s *BoltVectorStore) Search(query []float32, topK int, filter port.SearchFilter) ([]domain.ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dimension == 0 || len(s.docs) == 0 {
		return nil, nil
	}
	if len(query) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, store has %d", domain.ErrDimensionMismatch, len(query), s.dimension)
	}
	if topK <= 0 {
		return nil, nil
	}

	queryNorm := norm(query)

	type scored struct {
		entry *indexedChunk
		score float64
	}
	var scores []scored

	consider := func(entries []indexedChunk) {
		for i := range entries {
			sim := cosine(query, queryNorm, entries[i].chunk.Vector, entries[i].norm)
			if filter.Threshold != nil && sim < *filter.Threshold {
				continue
			}
			scores = append(scores, scored{entry: &entries[i], score: sim})
		}
	}

	if filter.Scoped {
		seen := make(map[string]bool, len(filter.DocIDs))
		for _, id := range filter.DocIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			consider(s.docs[id])
		}
	} else {
		for _, entries := range s.docs {
			consider(entries)
		}
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].entry.ord < scores[j].entry.ord
	})

	if topK > len(scores) {
		topK = len(scores)
	}

	results := make([]domain.ScoredChunk, topK)
	for i := 0; i < topK; i++ {
		results[i] = domain.ScoredChunk{
			Chunk: scores[i].entry.chunk,
			Score: scores[i].score,
		}
	}

	return results, nil
}

// ChunksByDocument returns the indexed chunks of docID in sequence order.
func (s *BoltVectorStore) ChunksByDocument(docID string) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.docs[docID]
	out := make([]domain.Chunk, len(entries))
	for i, e := range entries {
		out[i] = e.chunk
	}
	return out, nil
}

// Count returns the number of indexed chunks.
func (s *BoltVectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, entries := range s.docs {
		n += len(entries)
	}
	return n
}

// Dimension returns the stored vector dimension, 0 while empty.
func (s *BoltVectorStore) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

// RebuildReport describes a Rebuild.
type RebuildReport struct {
	Documents int
	Chunks    int
	// Unembedded lists documents with at least one chunk whose vector is
	// missing or unreadable. Those chunks are dropped; re-ingest the documents.
	Unembedded []string
}

// Rebuild regenerates doc_chunks and the in-memory index by scanning the
// chunk records. Chunk text is never lost.
func (s *BoltVectorStore) Rebuild() (RebuildReport, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var report RebuildReport
	docs := make(map[string][]indexedChunk)
	var dimension int

	err := s.db.Update(func(tx *bbolt.Tx) error {
		chunkBucket := tx.Bucket(bucketChunks)
		vectorBucket := tx.Bucket(bucketVectors)
		broken := make(map[string]bool)

		err := chunkBucket.ForEach(func(k, v []byte) error {
			entry, err := readEntry(chunkBucket, vectorBucket, string(k))
			if err != nil {
				var sc storedChunk
				if json.Unmarshal(v, &sc) == nil && sc.DocID != "" {
					broken[sc.DocID] = true
				}
				return nil
			}
			if dimension == 0 {
				dimension = len(entry.chunk.Vector)
			}
			if len(entry.chunk.Vector) != dimension {
				broken[entry.chunk.DocID] = true
				return nil
			}
			docs[entry.chunk.DocID] = append(docs[entry.chunk.DocID], entry)
			return nil
		})
		if err != nil {
			return err
		}

		if err := tx.DeleteBucket(bucketDocChunks); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		index, err := tx.CreateBucket(bucketDocChunks)
		if err != nil {
			return err
		}

		for docID, entries := range docs {
			sort.Slice(entries, func(i, j int) bool { return entries[i].chunk.Seq < entries[j].chunk.Seq })
			ids := make([]string, len(entries))
			for i, e := range entries {
				ids[i] = e.chunk.ID
			}
			data, err := json.Marshal(ids)
			if err != nil {
				return err
			}
			if err := index.Put([]byte(docID), data); err != nil {
				return err
			}
			report.Chunks += len(entries)
		}

		// Unindexable chunk records are removed so the next load sees a consistent count.
		indexed := make(map[string]bool, report.Chunks)
		for _, entries := range docs {
			for _, e := range entries {
				indexed[e.chunk.ID] = true
			}
		}
		var orphans [][]byte
		_ = chunkBucket.ForEach(func(k, _ []byte) error {
			if !indexed[string(k)] {
				orphans = append(orphans, append([]byte(nil), k...))
			}
			return nil
		})
		_ = vectorBucket.ForEach(func(k, _ []byte) error {
			if !indexed[string(k)] && chunkBucket.Get(k) == nil {
				orphans = append(orphans, append([]byte(nil), k...))
			}
			return nil
		})
		for _, k := range orphans {
			if err := chunkBucket.Delete(k); err != nil {
				return err
			}
			if err := vectorBucket.Delete(k); err != nil {
				return err
			}
		}
		for docID := range broken {
			report.Unembedded = append(report.Unembedded, docID)
		}
		sort.Strings(report.Unembedded)

		if err := tx.Bucket(bucketMeta).Delete(keyDimension); err != nil {
			return err
		}
		if dimension > 0 {
			return writeDimension(tx, dimension)
		}
		return nil
	})
	if err != nil {
		return RebuildReport{}, err
	}

	s.mu.Lock()
	s.docs = docs
	s.dimension = dimension
	s.mu.Unlock()

	report.Documents = len(docs)
	if s.log != nil {
		s.log.WithFields(logrus.Fields{
			"documents":  report.Documents,
			"chunks":     report.Chunks,
			"unembedded": len(report.Unembedded),
		}).Info("vector index rebuilt")
	}
	return report, nil
}

// Clear removes every chunk and vector and forgets the dimension. Used
// before re-embedding the corpus with a different model.
func (s *BoltVectorStore) Clear() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketChunks, bucketVectors, bucketDocChunks} {
			if err := tx.DeleteBucket(name); err != nil && err != bbolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketMeta).Delete(keyDimension)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.docs = make(map[string][]indexedChunk)
	s.dimension = 0
	s.mu.Unlock()
	return nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosine calculates the cosine similarity given precomputed norms.
func cosine(a []float32, normA float64, b []float32, normB float64) float64 {
	if len(a) != len(b) || normA == 0 || normB == 0 {
		return 0
	}
	var dotProduct float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
	}
	return dotProduct / (normA * normB)
}
