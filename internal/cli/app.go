package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
	"ragchat/config"
	"ragchat/internal/adapter/analyzer"
	"ragchat/internal/adapter/cache"
	"ragchat/internal/adapter/chunker"
	"ragchat/internal/adapter/embedding"
	"ragchat/internal/adapter/extractor"
	"ragchat/internal/adapter/llm"
	"ragchat/internal/adapter/store"
	"ragchat/internal/adapter/upstream"
	"ragchat/internal/usecase"
)

// app is the wired gateway shared by every command.
type app struct {
	cfg     *config.Config
	log     logrus.FieldLogger
	store   *store.BoltStore
	vectors *store.BoltVectorStore
	queries *cache.QueryCache

	ingest      *usecase.IngestUseCase
	docs        *usecase.DocumentUseCase
	collections *usecase.CollectionUseCase
	retrieve    *usecase.RetrieveUseCase
	chat        *usecase.ChatUseCase
	reindex     *usecase.ReindexUseCase
}

// openApp opens the database and builds every use case from cfg.
func openApp(cfg *config.Config, log logrus.FieldLogger) (*app, error) {
	if err := config.EnsureDataDir(cfg); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	st, err := store.NewBoltStore(cfg.Storage.Path, cfg.Storage.OpenTimeout)
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, fmt.Errorf("database %s is locked; is `ragchat serve` running?", cfg.Storage.Path)
		}
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	a, err := wire(cfg, st, log)
	if err != nil {
		st.Close()
		return nil, err
	}
	return a, nil
}

func wire(cfg *config.Config, st *store.BoltStore, log logrus.FieldLogger) (*app, error) {
	vectors, err := store.NewBoltVectorStore(st.DB(), log)
	if err != nil {
		return nil, fmt.Errorf("failed to load vector index: %w", err)
	}

	exec := newExecutor(cfg.Upstream, log)
	transport, err := newEmbeddingTransport(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	embedder := embedding.NewClient(transport, exec, cfg.Embedding.BatchSize, log.WithField("component", "embedding"))
	completer := llm.NewClient(newCompletionTransport(cfg.Completion, log), exec)

	queries := cache.NewQueryCache(cfg.Retrieve.QueryCacheSize, cfg.Retrieve.QueryCacheTTL)
	queryEmbedder := cache.NewCachedEmbedder(embedder, queries)

	ch, err := chunker.NewWindowChunker(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap, cfg.Ingest.MinChunkChars)
	if err != nil {
		return nil, err
	}

	ingest := usecase.NewIngestUseCase(st, vectors, extractor.NewRegistry(), ch, embedder, usecase.IngestOptions{
		OnConflict: usecase.ConflictPolicy(cfg.Ingest.OnConflict),
		Workers:    cfg.Ingest.Workers,
		QueueSize:  cfg.Ingest.QueueSize,
	}, log.WithField("component", "ingest"))

	retrieve := usecase.NewRetrieveUseCase(queryEmbedder, vectors, st, st, cfg.Retrieve.TopK, cfg.Retrieve.MinScoreThreshold)
	pack := usecase.NewPackUseCase(st, analyzer.NewTokenizer(0), cfg.Retrieve.ContextBudget, usecase.BudgetUnit(cfg.Retrieve.BudgetUnit))
	chat, err := usecase.NewChatUseCase(retrieve, pack, completer, log.WithField("component", "chat"))
	if err != nil {
		return nil, err
	}

	reindex := usecase.NewReindexUseCase(st, vectors, ingest, cfg, log.WithField("component", "reindex"))
	reindex.OnReset = queries.Invalidate

	return &app{
		cfg:         cfg,
		log:         log,
		store:       st,
		vectors:     vectors,
		queries:     queries,
		ingest:      ingest,
		docs:        usecase.NewDocumentUseCase(st, vectors, ingest),
		collections: usecase.NewCollectionUseCase(st),
		retrieve:    retrieve,
		chat:        chat,
		reindex:     reindex,
	}, nil
}

// Close stops background ingestion and closes the database.
func (a *app) Close() error {
	a.ingest.Stop()
	return a.store.Close()
}

// newExecutor builds the retry executor and the limiter shared by the
// embedding and completion clients.
func newExecutor(cfg config.UpstreamConfig, log logrus.FieldLogger) *upstream.Executor {
	limiter := upstream.NewLimiter(upstream.LimiterConfig{
		MaxConcurrent:     cfg.MaxConcurrent,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		AcquireTimeout:    cfg.AcquireTimeout,
	})
	policy := upstream.Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		Jitter:      cfg.Jitter,
		CallTimeout: cfg.CallTimeout,
	}
	return upstream.NewExecutor(policy, limiter, log.WithField("component", "upstream"))
}

func newEmbeddingTransport(cfg config.EmbeddingConfig) (embedding.Transport, error) {
	var (
		transport embedding.Transport
		err       error
	)
	switch cfg.Provider {
	case "openai":
		if cfg.APIKey() == "" {
			// Commands that never embed still work without a key.
			return missingKey{cfg: cfg}, nil
		}
		transport, err = embedding.NewOpenAICompatibleEmbedder(cfg.APIKey(), cfg.Model, cfg.BaseURL, cfg.Dimension, &http.Client{})
	case "ollama":
		transport, err = embedding.NewOllamaEmbedder(cfg.Model, cfg.BaseURL, cfg.Dimension, &http.Client{})
	case "mock":
		dim := cfg.Dimension
		if dim <= 0 {
			dim = 256
		}
		transport = embedding.NewMockEmbedder(dim)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return transport, nil
}

// missingKey stands in for the embedding API when no key is configured.
type missingKey struct {
	cfg config.EmbeddingConfig
}

func (m missingKey) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, fmt.Errorf("%w: %s is not set", upstream.ErrPermanent, m.cfg.APIKeyEnv)
}

func (m missingKey) ModelName() string { return m.cfg.Model }
func (m missingKey) Dimension() int    { return m.cfg.Dimension }

func newCompletionTransport(cfg config.CompletionConfig, log logrus.FieldLogger) llm.Transport {
	switch cfg.Provider {
	case "mock":
		return llm.NewMockCompleter(cfg.Model)
	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
		return llm.NewChatClient(llm.ChatOptions{
			BaseURL:     baseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})
	default:
		key := cfg.APIKey()
		if key == "" {
			log.Debugf("%s is not set; chat completions will be rejected upstream", cfg.APIKeyEnv)
		}
		return llm.NewChatClient(llm.ChatOptions{
			BaseURL:     cfg.BaseURL,
			APIKey:      key,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})
	}
}
