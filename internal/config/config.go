// Package config loads process configuration from environment variables
// layered over per-profile defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrInvalid indicates configuration that cannot produce a working pipeline.
var ErrInvalid = errors.New("invalid configuration")

// Profile selects a set of default values tuned for an environment.
type Profile string

const (
	ProfileDevelopment Profile = "development"
	ProfileTesting     Profile = "testing"
	ProfileProduction  Profile = "production"
)

// Config holds every tunable of the question answering pipeline.
type Config struct {
	Profile Profile

	// Chunking.
	ChunkSize     int
	ChunkOverlap  int
	ChunkBoundary string // none, sentence or markdown

	// Retrieval.
	TopK            int
	MaxContextChars int

	// Model backends.
	Backend         string // openai or ollama
	EmbeddingModel  string
	GenerationModel string
	OpenAIKey       string
	OllamaBaseURL   string

	// Generation parameters.
	MaxTokens   int
	Temperature float64
	TopP        float64

	// Vector index backend.
	IndexBackend string // memory or qdrant
	QdrantHost   string
	QdrantPort   int

	// Answer cache.
	CacheCapacity int
	CacheTTL      time.Duration

	// Document residency.
	MaxDocuments int
	DataDir      string

	// Query execution.
	MaxConcurrentQueries int
	QuestionTimeout      time.Duration

	// HTTP server.
	Port       int
	APIToken   string
	CORSOrigin string

	// Query event log. Empty disables the SQLite sink.
	EventsDB string
}

// defaults returns the baseline configuration for a profile.
func defaults(profile Profile) *Config {
	cfg := &Config{
		Profile:              profile,
		ChunkSize:            1000,
		ChunkOverlap:         200,
		ChunkBoundary:        "sentence",
		TopK:                 5,
		MaxContextChars:      8000,
		Backend:              "ollama",
		EmbeddingModel:       "nomic-embed-text",
		GenerationModel:      "llama3",
		OllamaBaseURL:        "http://localhost:11434",
		MaxTokens:            4000,
		Temperature:          0.1,
		TopP:                 0.9,
		IndexBackend:         "memory",
		QdrantHost:           "localhost",
		QdrantPort:           6334,
		CacheCapacity:        1024,
		CacheTTL:             time.Hour,
		MaxDocuments:         64,
		DataDir:              "./data",
		MaxConcurrentQueries: 4,
		QuestionTimeout:      2 * time.Minute,
		Port:                 8080,
		CORSOrigin:           "*",
	}

	switch profile {
	case ProfileTesting:
		cfg.ChunkSize = 200
		cfg.ChunkOverlap = 40
		cfg.TopK = 3
		cfg.MaxTokens = 256
		cfg.Temperature = 0
		cfg.CacheTTL = time.Minute
		cfg.QuestionTimeout = 10 * time.Second
	case ProfileProduction:
		cfg.ChunkSize = 800
		cfg.ChunkOverlap = 100
		cfg.TopK = 3
		cfg.Backend = "openai"
		cfg.EmbeddingModel = "text-embedding-3-small"
		cfg.GenerationModel = "gpt-4o-mini"
		cfg.MaxTokens = 2000
		cfg.Temperature = 0.05
		cfg.MaxConcurrentQueries = 10
	}
	return cfg
}

// Load builds a Config from the DOCQUERY_ENV profile and environment
// overrides, then validates it.
func Load() (*Config, error) {
	profile := Profile(getEnv("DOCQUERY_ENV", string(ProfileDevelopment)))
	switch profile {
	case ProfileDevelopment, ProfileTesting, ProfileProduction:
	default:
		return nil, fmt.Errorf("%w: unknown profile %q", ErrInvalid, profile)
	}

	cfg := defaults(profile)

	cfg.ChunkSize = getEnvInt("CHUNK_SIZE", cfg.ChunkSize)
	cfg.ChunkOverlap = getEnvInt("CHUNK_OVERLAP", cfg.ChunkOverlap)
	cfg.ChunkBoundary = getEnv("CHUNK_BOUNDARY", cfg.ChunkBoundary)
	cfg.TopK = getEnvInt("TOP_K", cfg.TopK)
	cfg.MaxContextChars = getEnvInt("MAX_CONTEXT_CHARS", cfg.MaxContextChars)
	cfg.Backend = getEnv("BACKEND", cfg.Backend)
	cfg.EmbeddingModel = getEnv("EMBEDDING_MODEL", cfg.EmbeddingModel)
	cfg.GenerationModel = getEnv("GENERATION_MODEL", cfg.GenerationModel)
	cfg.OpenAIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIKey)
	cfg.OllamaBaseURL = getEnv("OLLAMA_BASE_URL", cfg.OllamaBaseURL)
	cfg.MaxTokens = getEnvInt("MAX_TOKENS", cfg.MaxTokens)
	cfg.Temperature = getEnvFloat("TEMPERATURE", cfg.Temperature)
	cfg.TopP = getEnvFloat("TOP_P", cfg.TopP)
	cfg.IndexBackend = getEnv("INDEX_BACKEND", cfg.IndexBackend)
	cfg.QdrantHost = getEnv("QDRANT_HOST", cfg.QdrantHost)
	cfg.QdrantPort = getEnvInt("QDRANT_PORT", cfg.QdrantPort)
	cfg.CacheCapacity = getEnvInt("CACHE_CAPACITY", cfg.CacheCapacity)
	cfg.CacheTTL = getEnvDuration("CACHE_TTL", cfg.CacheTTL)
	cfg.MaxDocuments = getEnvInt("MAX_DOCUMENTS", cfg.MaxDocuments)
	cfg.DataDir = getEnv("DATA_DIR", cfg.DataDir)
	cfg.MaxConcurrentQueries = getEnvInt("MAX_CONCURRENT_QUERIES", cfg.MaxConcurrentQueries)
	cfg.QuestionTimeout = getEnvDuration("QUESTION_TIMEOUT", cfg.QuestionTimeout)
	cfg.Port = getEnvInt("PORT", cfg.Port)
	cfg.APIToken = getEnv("API_TOKEN", cfg.APIToken)
	cfg.CORSOrigin = getEnv("CORS_ORIGIN", cfg.CORSOrigin)
	cfg.EventsDB = getEnv("EVENTS_DB", cfg.EventsDB)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration before any pipeline is built from it.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalid, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 {
		return fmt.Errorf("%w: chunk overlap must not be negative, got %d", ErrInvalid, c.ChunkOverlap)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d",
			ErrInvalid, c.ChunkOverlap, c.ChunkSize)
	}
	switch c.ChunkBoundary {
	case "none", "sentence", "markdown":
	default:
		return fmt.Errorf("%w: unknown chunk boundary %q", ErrInvalid, c.ChunkBoundary)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalid, c.TopK)
	}
	if c.MaxContextChars <= 0 {
		return fmt.Errorf("%w: max context chars must be positive, got %d", ErrInvalid, c.MaxContextChars)
	}
	switch c.Backend {
	case "openai", "ollama":
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalid, c.Backend)
	}
	if c.EmbeddingModel == "" {
		return fmt.Errorf("%w: embedding model must not be empty", ErrInvalid)
	}
	if c.GenerationModel == "" {
		return fmt.Errorf("%w: generation model must not be empty", ErrInvalid)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("%w: max tokens must be positive, got %d", ErrInvalid, c.MaxTokens)
	}
	switch c.IndexBackend {
	case "memory", "qdrant":
	default:
		return fmt.Errorf("%w: unknown index backend %q", ErrInvalid, c.IndexBackend)
	}
	if c.CacheCapacity <= 0 {
		return fmt.Errorf("%w: cache capacity must be positive, got %d", ErrInvalid, c.CacheCapacity)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("%w: cache TTL must be positive, got %s", ErrInvalid, c.CacheTTL)
	}
	if c.MaxDocuments <= 0 {
		return fmt.Errorf("%w: max documents must be positive, got %d", ErrInvalid, c.MaxDocuments)
	}
	if c.MaxConcurrentQueries <= 0 {
		return fmt.Errorf("%w: max concurrent queries must be positive, got %d",
			ErrInvalid, c.MaxConcurrentQueries)
	}
	if c.QuestionTimeout <= 0 {
		return fmt.Errorf("%w: question timeout must be positive, got %s", ErrInvalid, c.QuestionTimeout)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, c.Port)
	}
	return nil
}

// SnapshotDir is where serialized document indexes live.
func (c *Config) SnapshotDir() string {
	return filepath.Join(c.DataDir, "snapshots")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		var result float64
		if _, err := fmt.Sscanf(value, "%f", &result); err == nil {
			return result
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings and, for compatibility with
// older deployments, bare integers meaning seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	var seconds int
	if _, err := fmt.Sscanf(value, "%d", &seconds); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}
