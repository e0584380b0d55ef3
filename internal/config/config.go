// Package config provides the configuration schema, loader, and provider
// registry for the PitchForge server.
package config

import "time"

// LogLevel controls log verbosity for the PitchForge server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for PitchForge.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader];
// unset keys fall back to [DefaultConfig] values.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Session   SessionConfig   `yaml:"session"`
	Doc       DocConfig       `yaml:"doc"`
	Vector    VectorConfig    `yaml:"vector"`
	Storage   StorageConfig   `yaml:"storage"`
	Blob      BlobConfig      `yaml:"blob"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// Addr is the TCP address the API server listens on (e.g., ":8080").
	Addr string `yaml:"addr"`

	// MetricsAddr is the address the Prometheus endpoint listens on.
	// Empty disables the metrics listener.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// LLMConfig selects and tunes the completion and embedding providers.
type LLMConfig struct {
	// Provider is the completion backend name. Any any-llm-go provider
	// name works (openai, anthropic, gemini, ollama, ...), plus "mock".
	Provider string `yaml:"provider"`

	// Model is the completion model identifier (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// APIKey authenticates against the completion provider. Usually
	// injected as ${OPENAI_API_KEY} or similar rather than written in YAML.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint. Leave empty for
	// the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// EmbeddingProvider is the embedding backend name: openai, ollama, or mock.
	EmbeddingProvider string `yaml:"embedding_provider"`

	// EmbeddingModel is the embedding model identifier.
	EmbeddingModel string `yaml:"embedding_model"`

	// EmbeddingAPIKey authenticates against the embedding provider. Falls
	// back to APIKey when empty.
	EmbeddingAPIKey string `yaml:"embedding_api_key"`

	// EmbeddingBaseURL overrides the embedding provider's endpoint. For
	// ollama this is the server address.
	EmbeddingBaseURL string `yaml:"embedding_base_url"`

	// RequestDeadlineMs bounds each provider round trip.
	RequestDeadlineMs int `yaml:"request_deadline_ms"`

	// RetryBudget is the total attempt count per provider call.
	RetryBudget int `yaml:"retry_budget"`

	// RateRPS caps outbound provider calls per second. 0 disables limiting.
	RateRPS float64 `yaml:"rate_rps"`

	// EmbedBatchSize caps texts per embedding request.
	EmbedBatchSize int `yaml:"embed_batch_size"`

	// EmbedCacheSize is the query-embedding LRU capacity. Negative disables
	// the cache.
	EmbedCacheSize int `yaml:"embed_cache_size"`
}

// RequestDeadline returns RequestDeadlineMs as a duration.
func (c LLMConfig) RequestDeadline() time.Duration {
	return time.Duration(c.RequestDeadlineMs) * time.Millisecond
}

// ChunkerConfig tunes document splitting.
type ChunkerConfig struct {
	// SizeTokens is the target chunk size in approximate tokens.
	SizeTokens int `yaml:"size_tokens"`

	// OverlapTokens is the overlap carried between consecutive chunks.
	OverlapTokens int `yaml:"overlap_tokens"`
}

// RetrievalConfig tunes how many chunks each operation retrieves.
type RetrievalConfig struct {
	// KChat is the chunk count per session turn.
	KChat int `yaml:"k_chat"`

	// KSynthesis is the chunk count per talk-point generation.
	KSynthesis int `yaml:"k_synthesis"`
}

// IngestionConfig tunes the background indexing pipeline.
type IngestionConfig struct {
	// Workers is the concurrent document-processing goroutine count.
	Workers int `yaml:"workers"`

	// QueueDepth is the pending-job channel capacity.
	QueueDepth int `yaml:"queue_depth"`

	// ClaimTimeoutMs is how long a PROCESSING claim stays valid before the
	// janitor re-enqueues the document.
	ClaimTimeoutMs int `yaml:"claim_timeout_ms"`

	// JanitorIntervalMs is the sweep cadence for stale claims and vector
	// orphans.
	JanitorIntervalMs int `yaml:"janitor_interval_ms"`
}

// ClaimTimeout returns ClaimTimeoutMs as a duration.
func (c IngestionConfig) ClaimTimeout() time.Duration {
	return time.Duration(c.ClaimTimeoutMs) * time.Millisecond
}

// JanitorInterval returns JanitorIntervalMs as a duration.
func (c IngestionConfig) JanitorInterval() time.Duration {
	return time.Duration(c.JanitorIntervalMs) * time.Millisecond
}

// SessionConfig tunes practice sessions.
type SessionConfig struct {
	// TurnDeadlineMs bounds one full turn (retrieval plus completion).
	TurnDeadlineMs int `yaml:"turn_deadline_ms"`

	// HistoryTurns is how many prior transcript turns enter the prompt.
	HistoryTurns int `yaml:"history_turns"`

	// MaxCompletionTokens caps the assistant reply length.
	MaxCompletionTokens int `yaml:"max_completion_tokens"`
}

// TurnDeadline returns TurnDeadlineMs as a duration.
func (c SessionConfig) TurnDeadline() time.Duration {
	return time.Duration(c.TurnDeadlineMs) * time.Millisecond
}

// DocConfig constrains document uploads.
type DocConfig struct {
	// MaxBytes is the upload size cap.
	MaxBytes int64 `yaml:"max_bytes"`
}

// VectorConfig selects the vector index backend.
type VectorConfig struct {
	// Provider is "postgres" or "memory".
	Provider string `yaml:"provider"`

	// Dim is the embedding dimensionality. Must match the embedding model.
	Dim int `yaml:"dim"`
}

// StorageConfig selects the relational store.
type StorageConfig struct {
	// DSN is the PostgreSQL connection string. Empty selects the in-memory
	// store, which is only suitable for tests and local experiments.
	DSN string `yaml:"dsn"`
}

// BlobConfig selects where uploaded document payloads live.
type BlobConfig struct {
	// Backend is "fs" or "s3".
	Backend string `yaml:"backend"`

	FS FSBlobConfig `yaml:"fs"`
	S3 S3BlobConfig `yaml:"s3"`
}

// FSBlobConfig configures the filesystem blob backend.
type FSBlobConfig struct {
	// Dir is the root directory for stored payloads.
	Dir string `yaml:"dir"`
}

// S3BlobConfig configures the S3 blob backend.
type S3BlobConfig struct {
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`

	// Endpoint overrides the AWS endpoint for S3-compatible stores.
	Endpoint string `yaml:"endpoint"`
}

// DefaultConfig returns the configuration used when a key is absent from
// the YAML file.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        ":8080",
			MetricsAddr: ":9090",
			LogLevel:    LogInfo,
		},
		LLM: LLMConfig{
			Provider:          "openai",
			Model:             "gpt-4o-mini",
			EmbeddingProvider: "openai",
			EmbeddingModel:    "text-embedding-3-small",
			RequestDeadlineMs: 30000,
			RetryBudget:       3,
			RateRPS:           8,
			EmbedBatchSize:    64,
			EmbedCacheSize:    1024,
		},
		Chunker:   ChunkerConfig{SizeTokens: 1000, OverlapTokens: 200},
		Retrieval: RetrievalConfig{KChat: 5, KSynthesis: 10},
		Ingestion: IngestionConfig{
			Workers:           4,
			QueueDepth:        256,
			ClaimTimeoutMs:    120000,
			JanitorIntervalMs: 30000,
		},
		Session: SessionConfig{
			TurnDeadlineMs:      45000,
			HistoryTurns:        10,
			MaxCompletionTokens: 700,
		},
		Doc:     DocConfig{MaxBytes: 10 << 20},
		Vector:  VectorConfig{Provider: "postgres", Dim: 1536},
		Storage: StorageConfig{},
		Blob: BlobConfig{
			Backend: "fs",
			FS:      FSBlobConfig{Dir: "/var/lib/pitchforge/blobs"},
		},
	}
}
