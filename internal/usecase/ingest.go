package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"ragchat/internal/domain"
	"ragchat/internal/port"
)

// ConflictPolicy decides what a second ingestion of an in-flight document does.
type ConflictPolicy string

const (
	ConflictReject ConflictPolicy = "reject"
	ConflictWait   ConflictPolicy = "wait"
)

// IngestOptions configures the ingestion pipeline.
type IngestOptions struct {
	OnConflict ConflictPolicy
	Workers    int
	QueueSize  int
}

// IngestUseCase drives documents through Pending -> Processing -> Ready|Failed.
//
// At most one ingestion per document runs at a time. The in-flight table is
// the per-document lock; the persisted status only reports progress, so a
// document left in Processing by a crash is picked up again by Recover.
type IngestUseCase struct {
	docs      port.DocumentStore
	vectors   port.VectorStore
	extractor port.Extractor
	chunker   port.Chunker
	embedder  port.Embedder
	log       logrus.FieldLogger
	opts      IngestOptions
	now       func() time.Time

	mu       sync.Mutex
	inflight map[string]*flight

	queue   chan string
	wg      sync.WaitGroup
	stopMu  sync.Mutex
	cancel  context.CancelFunc
	started bool
}

type flight struct {
	done      chan struct{}
	exclusive bool // held by Exclusive, not by an ingestion
	doc       domain.Document
	err       error
}

// NewIngestUseCase creates the pipeline. Workers are not started until Start.
func NewIngestUseCase(
	docs port.DocumentStore,
	vectors port.VectorStore,
	extractor port.Extractor,
	chunker port.Chunker,
	embedder port.Embedder,
	opts IngestOptions,
	log logrus.FieldLogger,
) *IngestUseCase {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	if opts.OnConflict == "" {
		opts.OnConflict = ConflictReject
	}
	return &IngestUseCase{
		docs:      docs,
		vectors:   vectors,
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		log:       log,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		inflight:  make(map[string]*flight),
		queue:     make(chan string, opts.QueueSize),
	}
}

// Ingest runs one ingestion of docID and returns the document in its final
// state. A concurrent call for the same id either fails with
// ErrAlreadyProcessing or waits for the running attempt and shares its
// result, depending on OnConflict. A waiter that was blocked by Exclusive
// ingests itself afterwards.
func (u *IngestUseCase) Ingest(ctx context.Context, docID string) (domain.Document, error) {
	for {
		f, owner := u.acquire(docID, false)
		if owner {
			f.doc, f.err = u.run(ctx, docID)
			u.release(docID, f)
			return f.doc, f.err
		}
		if u.opts.OnConflict != ConflictWait {
			return domain.Document{}, fmt.Errorf("document %s: %w", docID, domain.ErrAlreadyProcessing)
		}
		select {
		case <-f.done:
		case <-ctx.Done():
			return domain.Document{}, ctx.Err()
		}
		// An Exclusive section produces no ingestion result; take the lock
		// and ingest once it is over.
		if !f.exclusive {
			return f.doc, f.err
		}
	}
}

// Exclusive runs fn while holding the document's ingestion lock. It fails
// with ErrAlreadyProcessing when an ingestion is in flight.
func (u *IngestUseCase) Exclusive(docID string, fn func() error) error {
	f, owner := u.acquire(docID, true)
	if !owner {
		return fmt.Errorf("document %s: %w", docID, domain.ErrAlreadyProcessing)
	}
	f.err = fn()
	u.release(docID, f)
	return f.err
}

// InFlight reports whether docID is being ingested right now.
func (u *IngestUseCase) InFlight(docID string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.inflight[docID]
	return ok
}

func (u *IngestUseCase) acquire(docID string, exclusive bool) (*flight, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if f, ok := u.inflight[docID]; ok {
		return f, false
	}
	f := &flight{done: make(chan struct{}), exclusive: exclusive}
	u.inflight[docID] = f
	return f, true
}

func (u *IngestUseCase) release(docID string, f *flight) {
	u.mu.Lock()
	delete(u.inflight, docID)
	u.mu.Unlock()
	close(f.done)
}

func (u *IngestUseCase) run(ctx context.Context, docID string) (domain.Document, error) {
	doc, err := u.docs.GetDocument(docID)
	if err != nil {
		return doc, err
	}
	log := u.log.WithFields(logrus.Fields{"doc_id": doc.ID, "name": doc.Name})

	doc.Status = domain.StatusProcessing
	doc.Attempts++
	doc.ErrorKind = ""
	doc.ErrorMessage = ""
	doc.UpdatedAt = u.now()
	if err := u.docs.UpdateDocument(doc); err != nil {
		return doc, fmt.Errorf("mark processing: %w", err)
	}
	log.WithField("attempt", doc.Attempts).Debug("ingestion started")

	start := time.Now()
	chunks, err := u.prepare(ctx, doc)
	if err == nil {
		// The one and only write to the vector store for this attempt.
		err = u.vectors.Upsert(doc.ID, chunks)
	}
	if err != nil {
		return u.fail(ctx, doc, err, log)
	}

	doc.Status = domain.StatusReady
	doc.ChunkCount = len(chunks)
	doc.UpdatedAt = u.now()
	if err := u.docs.UpdateDocument(doc); err != nil {
		return doc, fmt.Errorf("mark ready: %w", err)
	}
	log.WithFields(logrus.Fields{
		"chunks":   len(chunks),
		"duration": time.Since(start).Round(time.Millisecond).String(),
	}).Info("document ready")
	return doc, nil
}

// prepare extracts, chunks and embeds doc. Nothing is written.
func (u *IngestUseCase) prepare(ctx context.Context, doc domain.Document) ([]domain.Chunk, error) {
	source, err := u.docs.GetSource(doc.ID)
	if err != nil {
		return nil, err
	}

	pages, err := u.extractor.Extract(source, doc.Format)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	chunks, err := u.chunker.Chunk(doc.ID, pages)
	if err != nil {
		return nil, fmt.Errorf("chunk: %w", err)
	}
	if len(chunks) == 0 {
		return chunks, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := u.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embed: got %d vectors for %d chunks", len(vectors), len(chunks))
	}
	for i := range chunks {
		chunks[i].Vector = vectors[i]
	}
	return chunks, nil
}

// fail records err on doc. A canceled attempt goes back to Pending so a
// later run picks it up; anything else is Failed with its error kind.
func (u *IngestUseCase) fail(ctx context.Context, doc domain.Document, err error, log logrus.FieldLogger) (domain.Document, error) {
	doc.UpdatedAt = u.now()
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		doc.Status = domain.StatusPending
		log.Info("ingestion interrupted, document back to pending")
	} else {
		doc.Status = domain.StatusFailed
		doc.ErrorKind = domain.Kind(err)
		doc.ErrorMessage = err.Error()
		log.WithFields(logrus.Fields{
			"kind":    doc.ErrorKind,
			"attempt": doc.Attempts,
		}).WithError(err).Warn("ingestion failed")
	}
	if uerr := u.docs.UpdateDocument(doc); uerr != nil {
		return doc, errors.Join(err, fmt.Errorf("record failure: %w", uerr))
	}
	return doc, err
}

// Submit queues docID for a background worker. A full queue fails with
// ErrOverloaded instead of blocking the caller.
func (u *IngestUseCase) Submit(docID string) error {
	select {
	case u.queue <- docID:
		return nil
	default:
		return fmt.Errorf("ingestion queue full: %w", domain.ErrOverloaded)
	}
}

// Start launches the worker pool. Workers stop when ctx ends or Stop is called.
func (u *IngestUseCase) Start(ctx context.Context) {
	u.stopMu.Lock()
	defer u.stopMu.Unlock()
	if u.started {
		return
	}
	u.started = true

	ctx, u.cancel = context.WithCancel(ctx)
	for i := 0; i < u.opts.Workers; i++ {
		u.wg.Add(1)
		go u.worker(ctx, i)
	}
	u.log.WithField("workers", u.opts.Workers).Debug("ingestion workers started")
}

// Stop cancels running ingestions and waits for the workers to exit.
// Interrupted documents return to Pending.
func (u *IngestUseCase) Stop() {
	u.stopMu.Lock()
	cancel := u.cancel
	u.stopMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	u.wg.Wait()
}

func (u *IngestUseCase) worker(ctx context.Context, n int) {
	defer u.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case docID := <-u.queue:
			_, err := u.Ingest(ctx, docID)
			switch {
			case err == nil:
			case errors.Is(err, domain.ErrAlreadyProcessing):
				u.log.WithField("doc_id", docID).Debug("skipping queued document, already in flight")
			case errors.Is(err, domain.ErrNotFound):
				u.log.WithField("doc_id", docID).Debug("skipping queued document, deleted")
			case ctx.Err() != nil:
				return
			default:
				// Already recorded on the document and logged by fail.
			}
		}
	}
}

// Recover queues every document left Pending or Processing, e.g. by a
// crash. It blocks while the queue is full and returns the number queued.
func (u *IngestUseCase) Recover(ctx context.Context) (int, error) {
	docs, err := u.docs.ListDocuments("")
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, doc := range docs {
		if doc.Status != domain.StatusPending && doc.Status != domain.StatusProcessing {
			continue
		}
		select {
		case u.queue <- doc.ID:
			queued++
		case <-ctx.Done():
			return queued, ctx.Err()
		}
	}
	if queued > 0 {
		u.log.WithField("documents", queued).Info("requeued unfinished documents")
	}
	return queued, nil
}
