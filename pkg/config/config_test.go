package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Listen != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.Listen)
	}
	if cfg.Cache.TTL != time.Hour {
		t.Errorf("expected 1h TTL, got %v", cfg.Cache.TTL)
	}
	if cfg.Cache.SimilarityThreshold != 0.92 {
		t.Errorf("expected threshold 0.92, got %v", cfg.Cache.SimilarityThreshold)
	}
	if cfg.Cache.MaxSize != 1000 {
		t.Errorf("expected max size 1000, got %d", cfg.Cache.MaxSize)
	}
	if cfg.ChunkCache.TTL != 30*time.Minute {
		t.Errorf("expected 30m chunk ttl, got %v", cfg.ChunkCache.TTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_OLLAMA_URL", "http://models.internal:11434")

	content := `
listen: ":9090"
db_path: "test.db"
ollama:
  url: ${TEST_OLLAMA_URL}
  model: llama3
  fallback_models: [mistral]
cache:
  enabled: true
  max_size: 50
  similarity_threshold: 0.9
  ttl: 30m
rate_limit:
  enabled: true
  max_requests: 10
  window: 1m
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Listen != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.Listen)
	}
	if cfg.Ollama.URL != "http://models.internal:11434" {
		t.Errorf("env var not expanded: got %s", cfg.Ollama.URL)
	}
	if cfg.Ollama.Model != "llama3" {
		t.Errorf("expected llama3, got %s", cfg.Ollama.Model)
	}
	if len(cfg.Ollama.FallbackModels) != 1 || cfg.Ollama.FallbackModels[0] != "mistral" {
		t.Errorf("unexpected fallbacks: %v", cfg.Ollama.FallbackModels)
	}
	if cfg.Cache.MaxSize != 50 {
		t.Errorf("expected max size 50, got %d", cfg.Cache.MaxSize)
	}
	if cfg.Cache.TTL != 30*time.Minute {
		t.Errorf("expected 30m TTL, got %v", cfg.Cache.TTL)
	}
	if !cfg.RateLimit.Enabled {
		t.Error("expected rate limit enabled")
	}

	// Values the file does not mention keep their defaults.
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("expected default top_k 5, got %d", cfg.Retrieval.TopK)
	}
	if cfg.Ollama.EmbedModel != "nomic-embed-text" {
		t.Errorf("expected default embed model, got %s", cfg.Ollama.EmbedModel)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"zero max size", "cache:\n  max_size: 0\n"},
		{"negative ttl", "cache:\n  ttl: -5m\n"},
		{"threshold above one", "cache:\n  similarity_threshold: 1.2\n"},
		{"zero top_k", "retrieval:\n  top_k: 0\n"},
		{"overlap too large", "ingest:\n  chunk_size: 100\n  chunk_overlap: 100\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
