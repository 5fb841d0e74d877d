package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all Memini configuration.
type Config struct {
	Listen         string           `yaml:"listen"`
	DBPath         string           `yaml:"db_path"`
	AllowedOrigins []string         `yaml:"allowed_origins"`
	ImagesDir      string           `yaml:"images_dir"`
	Ollama         OllamaConfig     `yaml:"ollama"`
	Cache          CacheConfig      `yaml:"cache"`
	ChunkCache     ChunkCacheConfig `yaml:"chunk_cache"`
	Retrieval      RetrievalConfig  `yaml:"retrieval"`
	Ingest         IngestConfig     `yaml:"ingest"`
	RateLimit      RateLimitConfig  `yaml:"rate_limit"`
	History        HistoryConfig    `yaml:"history"`
}

// OllamaConfig points at the local model server.
type OllamaConfig struct {
	URL            string        `yaml:"url"`
	Model          string        `yaml:"model"`
	FallbackModels []string      `yaml:"fallback_models"`
	EmbedModel     string        `yaml:"embed_model"`
	Timeout        time.Duration `yaml:"timeout"`
}

// CacheConfig controls the query result cache.
type CacheConfig struct {
	Enabled             bool          `yaml:"enabled"`
	MaxSize             int           `yaml:"max_size"`
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
	TTL                 time.Duration `yaml:"ttl"`
	Semantic            bool          `yaml:"semantic"`
}

// ChunkCacheConfig controls the retrieved-chunk cache.
type ChunkCacheConfig struct {
	MaxSize int           `yaml:"max_size"`
	TTL     time.Duration `yaml:"ttl"`
}

// RetrievalConfig controls chunk retrieval.
type RetrievalConfig struct {
	TopK     int     `yaml:"top_k"`
	MinScore float64 `yaml:"min_score"`
}

// IngestConfig controls document splitting.
type IngestConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// RateLimitConfig controls per-client request limiting on the API routes.
type RateLimitConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// HistoryConfig controls the query log.
type HistoryConfig struct {
	Enabled          bool   `yaml:"enabled"`
	DBPath           string `yaml:"db_path"`
	RetentionDays    int    `yaml:"retention_days"`
	StoreResponses   bool   `yaml:"store_responses"`
	MaxResponseBytes int    `yaml:"max_response_bytes"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		DBPath: "memini.db",
		Ollama: OllamaConfig{
			URL:        "http://localhost:11434",
			Model:      "mistral",
			EmbedModel: "nomic-embed-text",
			Timeout:    2 * time.Minute,
		},
		Cache: CacheConfig{
			Enabled:             true,
			MaxSize:             1000,
			SimilarityThreshold: 0.92,
			TTL:                 time.Hour,
			Semantic:            true,
		},
		ChunkCache: ChunkCacheConfig{
			MaxSize: 500,
			TTL:     30 * time.Minute,
		},
		Retrieval: RetrievalConfig{
			TopK:     5,
			MinScore: 0.1,
		},
		Ingest: IngestConfig{
			ChunkSize:    800,
			ChunkOverlap: 80,
		},
		RateLimit: RateLimitConfig{
			Enabled:     false,
			MaxRequests: 100,
			Window:      15 * time.Minute,
		},
		History: HistoryConfig{
			Enabled:          true,
			DBPath:           "memini_history.db",
			RetentionDays:    30,
			StoreResponses:   true,
			MaxResponseBytes: 8192,
		},
	}
}

// Load reads a YAML config file, expands environment variables, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the caches and retriever would refuse at
// construction time, so bad files fail at startup instead of mid-request.
func (c *Config) Validate() error {
	if c.Cache.MaxSize <= 0 {
		return fmt.Errorf("cache.max_size must be positive, got %d", c.Cache.MaxSize)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative, got %v", c.Cache.TTL)
	}
	if c.Cache.SimilarityThreshold < 0 || c.Cache.SimilarityThreshold > 1 {
		return fmt.Errorf("cache.similarity_threshold must be between 0 and 1, got %v", c.Cache.SimilarityThreshold)
	}
	if c.ChunkCache.MaxSize <= 0 {
		return fmt.Errorf("chunk_cache.max_size must be positive, got %d", c.ChunkCache.MaxSize)
	}
	if c.ChunkCache.TTL < 0 {
		return fmt.Errorf("chunk_cache.ttl must not be negative, got %v", c.ChunkCache.TTL)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("ingest.chunk_size must be positive, got %d", c.Ingest.ChunkSize)
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap must be smaller than chunk_size, got %d", c.Ingest.ChunkOverlap)
	}
	if c.RateLimit.Enabled && c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rate_limit.max_requests must be positive, got %d", c.RateLimit.MaxRequests)
	}
	return nil
}
