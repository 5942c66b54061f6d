package usecase

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"ragchat/config"
	"ragchat/internal/adapter/analyzer"
	"ragchat/internal/adapter/chunker"
	"ragchat/internal/adapter/embedding"
	"ragchat/internal/adapter/extractor"
	"ragchat/internal/adapter/store"
	"ragchat/internal/adapter/upstream"
	"ragchat/internal/domain"
	"ragchat/internal/logging"
	"ragchat/internal/port"
)

// flakyTransport answers like the mock embedder after failing the first
// calls with 429. A non-nil gate blocks every call until it is closed.
type flakyTransport struct {
	*embedding.MockEmbedder

	mu       sync.Mutex
	failures int
	calls    int
	gate     chan struct{}
}

func (f *flakyTransport) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, &upstream.StatusError{Code: 429, Body: "rate limited"}
	}
	return f.MockEmbedder.EmbedBatch(ctx, texts)
}

func (f *flakyTransport) setFailures(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
}

func (f *flakyTransport) block() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	return f.gate
}

func (f *flakyTransport) unblock() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
}

func (f *flakyTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recordingCompleter returns a fixed answer and keeps the last request.
type recordingCompleter struct {
	mu   sync.Mutex
	last port.CompletionRequest
}

func (r *recordingCompleter) Complete(ctx context.Context, req port.CompletionRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = req
	return "the answer", nil
}

func (r *recordingCompleter) Stream(ctx context.Context, req port.CompletionRequest) (port.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = req
	return &fragments{parts: []string{"the ", "answer"}}, nil
}

func (r *recordingCompleter) ModelName() string { return "test-model" }

func (r *recordingCompleter) request() port.CompletionRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

type fragments struct {
	parts  []string
	closed bool
}

func (f *fragments) Recv() (string, error) {
	if len(f.parts) == 0 {
		return "", io.EOF
	}
	p := f.parts[0]
	f.parts = f.parts[1:]
	return p, nil
}

func (f *fragments) Close() error {
	f.closed = true
	return nil
}

type testEnv struct {
	cfg         *config.Config
	store       *store.BoltStore
	vectors     *store.BoltVectorStore
	transport   *flakyTransport
	ingest      *IngestUseCase
	docs        *DocumentUseCase
	collections *CollectionUseCase
	retrieve    *RetrieveUseCase
	pack        *PackUseCase
	completer   *recordingCompleter
	chat        *ChatUseCase
	reindex     *ReindexUseCase
}

func newTestEnv(t *testing.T, mutate ...func(cfg *config.Config)) *testEnv {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Ingest.ChunkSize = 500
	cfg.Ingest.ChunkOverlap = 100
	cfg.Embedding.Provider = "mock"
	cfg.Embedding.Dimension = 64
	cfg.Upstream.MaxAttempts = 5
	for _, m := range mutate {
		m(cfg)
	}

	log := logging.Discard()
	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "ragchat.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	vectors, err := store.NewBoltVectorStore(st.DB(), log)
	require.NoError(t, err)

	policy := upstream.DefaultPolicy()
	policy.MaxAttempts = cfg.Upstream.MaxAttempts
	policy.Sleep = func(context.Context, time.Duration) error { return nil }
	exec := upstream.NewExecutor(policy, upstream.NewLimiter(upstream.LimiterConfig{MaxConcurrent: 4}), log)

	transport := &flakyTransport{MockEmbedder: embedding.NewMockEmbedder(cfg.Embedding.Dimension)}
	embedder := embedding.NewClient(transport, exec, cfg.Embedding.BatchSize, log)

	ch, err := chunker.NewWindowChunker(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap, cfg.Ingest.MinChunkChars)
	require.NoError(t, err)

	ingest := NewIngestUseCase(st, vectors, extractor.NewRegistry(), ch, embedder, IngestOptions{
		OnConflict: ConflictPolicy(cfg.Ingest.OnConflict),
		Workers:    cfg.Ingest.Workers,
		QueueSize:  cfg.Ingest.QueueSize,
	}, log)
	t.Cleanup(ingest.Stop)

	retrieve := NewRetrieveUseCase(embedder, vectors, st, st, cfg.Retrieve.TopK, cfg.Retrieve.MinScoreThreshold)
	pack := NewPackUseCase(st, analyzer.NewTokenizer(0), cfg.Retrieve.ContextBudget, BudgetUnit(cfg.Retrieve.BudgetUnit))
	completer := &recordingCompleter{}
	chat, err := NewChatUseCase(retrieve, pack, completer, log)
	require.NoError(t, err)

	return &testEnv{
		cfg:         cfg,
		store:       st,
		vectors:     vectors,
		transport:   transport,
		ingest:      ingest,
		docs:        NewDocumentUseCase(st, vectors, ingest),
		collections: NewCollectionUseCase(st),
		retrieve:    retrieve,
		pack:        pack,
		completer:   completer,
		chat:        chat,
		reindex:     NewReindexUseCase(st, vectors, ingest, cfg, log),
	}
}

// ingestText stores a text document and ingests it synchronously.
func (e *testEnv) ingestText(t *testing.T, name, text string) domain.Document {
	t.Helper()
	doc, err := e.docs.Store(UploadRequest{Name: name, Format: "text", Data: []byte(text)})
	require.NoError(t, err)
	doc, err = e.ingest.Ingest(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusReady, doc.Status)
	return doc
}

func (e *testEnv) status(t *testing.T, id string) domain.Status {
	t.Helper()
	doc, err := e.store.GetDocument(id)
	require.NoError(t, err)
	return doc.Status
}

// page builds a page of n characters of distinct-ish words.
func page(label string, n int) string {
	var b strings.Builder
	for i := 0; b.Len() < n; i++ {
		fmt.Fprintf(&b, "%s%d ", label, i%50)
	}
	return b.String()[:n]
}
