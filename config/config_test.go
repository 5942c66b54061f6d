package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ragchat/internal/domain"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Ingest.ChunkSize != 1000 {
		t.Errorf("expected ChunkSize=1000, got %d", cfg.Ingest.ChunkSize)
	}
	if cfg.Ingest.ChunkOverlap != 200 {
		t.Errorf("expected ChunkOverlap=200, got %d", cfg.Ingest.ChunkOverlap)
	}
	if cfg.Retrieve.TopK != 5 {
		t.Errorf("expected TopK=5, got %d", cfg.Retrieve.TopK)
	}
	if cfg.Upstream.MaxAttempts != 5 {
		t.Errorf("expected MaxAttempts=5, got %d", cfg.Upstream.MaxAttempts)
	}
	if cfg.Upstream.BaseDelay != 500*time.Millisecond {
		t.Errorf("expected BaseDelay=500ms, got %s", cfg.Upstream.BaseDelay)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Errorf("expected no error for non-existent file, got %v", err)
	}
	if cfg == nil {
		t.Error("expected default config, got nil")
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "ragchat.yaml")

	content := `
ingest:
  chunk_size: 500
  chunk_overlap: 100
upstream:
  base_delay: 250ms
completion:
  aliases:
    gpt-4: llama3
retrieve:
  top_k: 10
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Ingest.ChunkSize != 500 || cfg.Ingest.ChunkOverlap != 100 {
		t.Errorf("expected 500/100, got %d/%d", cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	}
	if cfg.Upstream.BaseDelay != 250*time.Millisecond {
		t.Errorf("expected BaseDelay=250ms, got %s", cfg.Upstream.BaseDelay)
	}
	if cfg.Retrieve.TopK != 10 {
		t.Errorf("expected TopK=10, got %d", cfg.Retrieve.TopK)
	}
	// Untouched sections keep their defaults.
	if cfg.Upstream.MaxAttempts != 5 {
		t.Errorf("expected MaxAttempts=5, got %d", cfg.Upstream.MaxAttempts)
	}
	if got := cfg.Completion.ResolveModel("gpt-4"); got != "llama3" {
		t.Errorf("expected alias to resolve to llama3, got %s", got)
	}
}

func TestLoadFromDir(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "ragchat.yaml")

	content := `
retrieve:
  context_budget: 8000
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromDir(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Retrieve.ContextBudget != 8000 {
		t.Errorf("expected ContextBudget=8000, got %d", cfg.Retrieve.ContextBudget)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RAGCHAT_DATA_DIR", "/srv/ragchat")
	t.Setenv("RAGCHAT_ADDR", ":9999")

	cfg, err := LoadFromDir(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := filepath.Join("/srv/ragchat", "ragchat.db"); cfg.Storage.Path != want {
		t.Errorf("expected %s, got %s", want, cfg.Storage.Path)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("expected :9999, got %s", cfg.Server.Addr)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"overlap equals size": func(c *Config) { c.Ingest.ChunkOverlap = c.Ingest.ChunkSize },
		"negative overlap":    func(c *Config) { c.Ingest.ChunkOverlap = -1 },
		"zero size":           func(c *Config) { c.Ingest.ChunkSize = 0 },
		"bad conflict mode":   func(c *Config) { c.Ingest.OnConflict = "queue" },
		"bad provider":        func(c *Config) { c.Embedding.Provider = "cohere" },
		"bad budget unit":     func(c *Config) { c.Retrieve.BudgetUnit = "words" },
		"zero attempts":       func(c *Config) { c.Upstream.MaxAttempts = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, domain.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ragchat.yaml")
	cfg := DefaultConfig()
	cfg.Ingest.Workers = 7
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Ingest.Workers != 7 {
		t.Errorf("expected Workers=7, got %d", loaded.Ingest.Workers)
	}
}
