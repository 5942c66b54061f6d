package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"ragchat/internal/domain"
)

// Config holds all configuration for the gateway.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Completion CompletionConfig `yaml:"completion"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Retrieve   RetrieveConfig   `yaml:"retrieve"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds HTTP API configuration.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig holds the location of the bolt database.
type StorageConfig struct {
	Path        string        `yaml:"path"`
	OpenTimeout time.Duration `yaml:"open_timeout"` // How long to wait for the file lock
}

// IngestConfig holds chunking and ingestion worker configuration.
type IngestConfig struct {
	ChunkSize     int    `yaml:"chunk_size"`    // characters
	ChunkOverlap  int    `yaml:"chunk_overlap"` // characters
	MinChunkChars int    `yaml:"min_chunk_chars"`
	Workers       int    `yaml:"workers"`
	QueueSize     int    `yaml:"queue_size"`
	OnConflict    string `yaml:"on_conflict"` // "reject" or "wait"
}

// EmbeddingConfig holds embedding API configuration.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"` // "openai", "ollama", "mock"
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"` // Environment variable for API key
	Dimension int    `yaml:"dimension"`   // 0 = learn from the first response
	BatchSize int    `yaml:"batch_size"`
}

// CompletionConfig holds chat completion API configuration.
type CompletionConfig struct {
	Provider    string            `yaml:"provider"` // "openai", "ollama", "mock"
	BaseURL     string            `yaml:"base_url"`
	Model       string            `yaml:"model"`
	APIKeyEnv   string            `yaml:"api_key_env"`
	Temperature float64           `yaml:"temperature"`
	MaxTokens   int               `yaml:"max_tokens"`
	Aliases     map[string]string `yaml:"aliases"` // requested model name -> upstream model
}

// UpstreamConfig is shared by the embedding and completion clients.
type UpstreamConfig struct {
	MaxConcurrent     int           `yaml:"max_concurrent"`
	RequestsPerSecond float64       `yaml:"requests_per_second"` // 0 = unlimited
	Burst             int           `yaml:"burst"`
	AcquireTimeout    time.Duration `yaml:"acquire_timeout"`
	CallTimeout       time.Duration `yaml:"call_timeout"`
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	Jitter            float64       `yaml:"jitter"` // fraction of the delay, 0..1
}

// RetrieveConfig holds retrieval and context assembly configuration.
type RetrieveConfig struct {
	TopK              int           `yaml:"top_k"`
	MinScoreThreshold float64       `yaml:"min_score_threshold"` // Filter results below this score (0 = disabled)
	ContextBudget     int           `yaml:"context_budget"`
	BudgetUnit        string        `yaml:"budget_unit"` // "chars" or "tokens"
	QueryCacheSize    int           `yaml:"query_cache_size"`
	QueryCacheTTL     time.Duration `yaml:"query_cache_ttl"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			MaxUploadBytes:  32 << 20,
			ShutdownTimeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			Path:        filepath.Join("data", "ragchat.db"),
			OpenTimeout: 2 * time.Second,
		},
		Ingest: IngestConfig{
			ChunkSize:     1000,
			ChunkOverlap:  200,
			MinChunkChars: 1,
			Workers:       4,
			QueueSize:     64,
			OnConflict:    "reject",
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			APIKeyEnv: "OPENAI_API_KEY",
			BatchSize: 64,
		},
		Completion: CompletionConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			APIKeyEnv:   "OPENAI_API_KEY",
			Temperature: 0.2,
			MaxTokens:   1024,
		},
		Upstream: UpstreamConfig{
			MaxConcurrent:  8,
			Burst:          1,
			AcquireTimeout: 30 * time.Second,
			CallTimeout:    60 * time.Second,
			MaxAttempts:    5,
			BaseDelay:      500 * time.Millisecond,
			MaxDelay:       20 * time.Second,
			Jitter:         0.2,
		},
		Retrieve: RetrieveConfig{
			TopK:           5,
			ContextBudget:  6000,
			BudgetUnit:     "chars",
			QueryCacheSize: 256,
			QueryCacheTTL:  10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyEnv()

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for ragchat.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "ragchat.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".ragchat", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	cfg := DefaultConfig()
	cfg.applyEnv()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("RAGCHAT_DATA_DIR"); v != "" {
		c.Storage.Path = filepath.Join(v, "ragchat.db")
	}
	if v := os.Getenv("RAGCHAT_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("RAGCHAT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate rejects settings no component can honor.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Ingest.ChunkSize <= 0 {
		add("ingest.chunk_size must be positive")
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		add("ingest.chunk_overlap must be in [0, chunk_size)")
	}
	if c.Ingest.MinChunkChars < 1 || c.Ingest.MinChunkChars > c.Ingest.ChunkSize {
		add("ingest.min_chunk_chars must be in [1, chunk_size]")
	}
	if c.Ingest.Workers <= 0 || c.Ingest.QueueSize <= 0 {
		add("ingest.workers and ingest.queue_size must be positive")
	}
	switch c.Ingest.OnConflict {
	case "reject", "wait":
	default:
		add("ingest.on_conflict must be reject or wait, got %q", c.Ingest.OnConflict)
	}
	for name, provider := range map[string]string{"embedding": c.Embedding.Provider, "completion": c.Completion.Provider} {
		switch provider {
		case "openai", "ollama", "mock":
		default:
			add("%s.provider %q is not supported", name, provider)
		}
	}
	if c.Embedding.BatchSize <= 0 {
		add("embedding.batch_size must be positive")
	}
	if c.Embedding.Dimension < 0 {
		add("embedding.dimension must not be negative")
	}
	if c.Upstream.MaxConcurrent <= 0 {
		add("upstream.max_concurrent must be positive")
	}
	if c.Upstream.MaxAttempts <= 0 {
		add("upstream.max_attempts must be positive")
	}
	if c.Upstream.Jitter < 0 || c.Upstream.Jitter > 1 {
		add("upstream.jitter must be in [0, 1]")
	}
	if c.Retrieve.TopK <= 0 {
		add("retrieve.top_k must be positive")
	}
	if c.Retrieve.ContextBudget <= 0 {
		add("retrieve.context_budget must be positive")
	}
	switch c.Retrieve.BudgetUnit {
	case "chars", "tokens":
	default:
		add("retrieve.budget_unit must be chars or tokens, got %q", c.Retrieve.BudgetUnit)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// APIKey resolves the embedding API key from the environment.
func (e EmbeddingConfig) APIKey() string {
	if e.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(e.APIKeyEnv)
}

// APIKey resolves the completion API key from the environment.
func (c CompletionConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// ResolveModel maps a requested model name through the alias table.
// Unknown names pass through, empty names select the configured model.
func (c CompletionConfig) ResolveModel(requested string) string {
	if requested == "" {
		return c.Model
	}
	if mapped, ok := c.Aliases[requested]; ok {
		return mapped
	}
	return requested
}

// EnsureDataDir ensures the directory holding the database exists.
func EnsureDataDir(cfg *Config) error {
	return os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0755)
}
