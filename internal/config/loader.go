package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/antzucaro/matchr"
	"gopkg.in/yaml.v3"
)

// Known backend names per selector key. Used by [Validate] to reject typos
// with a suggestion.
var (
	knownLLMProviders = []string{
		"openai", "anthropic", "gemini", "ollama", "deepseek",
		"mistral", "groq", "llamacpp", "llamafile", "mock",
	}
	knownEmbeddingProviders = []string{"openai", "ollama", "mock"}
	knownVectorProviders    = []string{"postgres", "memory"}
	knownBlobBackends       = []string{"fs", "s3"}
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. ${VAR} references in the file are expanded from the environment
// before decoding; an unset variable expands to the empty string.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	expanded := os.Expand(string(raw), os.Getenv)
	cfg, err := LoadFromReader(strings.NewReader(expanded))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [DefaultConfig] and
// validates the result. Unknown keys are rejected. Useful in tests where
// configs are constructed from string literals; env expansion is the
// caller's concern here.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := DefaultConfig()
	if len(bytes.TrimSpace(raw)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// LLM
	errs = append(errs, checkName("llm.provider", cfg.LLM.Provider, knownLLMProviders)...)
	errs = append(errs, checkName("llm.embedding_provider", cfg.LLM.EmbeddingProvider, knownEmbeddingProviders)...)
	if cfg.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	if cfg.LLM.EmbeddingModel == "" {
		errs = append(errs, errors.New("llm.embedding_model is required"))
	}
	if cfg.LLM.RequestDeadlineMs <= 0 {
		errs = append(errs, fmt.Errorf("llm.request_deadline_ms %d must be positive", cfg.LLM.RequestDeadlineMs))
	}
	if cfg.LLM.RetryBudget <= 0 {
		errs = append(errs, fmt.Errorf("llm.retry_budget %d must be positive", cfg.LLM.RetryBudget))
	}
	if cfg.LLM.RateRPS < 0 {
		errs = append(errs, fmt.Errorf("llm.rate_rps %.2f must not be negative", cfg.LLM.RateRPS))
	}
	if cfg.LLM.EmbedBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("llm.embed_batch_size %d must be positive", cfg.LLM.EmbedBatchSize))
	}

	// Chunker
	if cfg.Chunker.SizeTokens <= 0 {
		errs = append(errs, fmt.Errorf("chunker.size_tokens %d must be positive", cfg.Chunker.SizeTokens))
	}
	if cfg.Chunker.OverlapTokens < 0 {
		errs = append(errs, fmt.Errorf("chunker.overlap_tokens %d must not be negative", cfg.Chunker.OverlapTokens))
	}
	if cfg.Chunker.OverlapTokens >= cfg.Chunker.SizeTokens && cfg.Chunker.SizeTokens > 0 {
		errs = append(errs, fmt.Errorf("chunker.overlap_tokens %d must be smaller than chunker.size_tokens %d",
			cfg.Chunker.OverlapTokens, cfg.Chunker.SizeTokens))
	}

	// Retrieval
	if cfg.Retrieval.KChat <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.k_chat %d must be positive", cfg.Retrieval.KChat))
	}
	if cfg.Retrieval.KSynthesis <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.k_synthesis %d must be positive", cfg.Retrieval.KSynthesis))
	}

	// Ingestion
	if cfg.Ingestion.Workers <= 0 {
		errs = append(errs, fmt.Errorf("ingestion.workers %d must be positive", cfg.Ingestion.Workers))
	}
	if cfg.Ingestion.QueueDepth <= 0 {
		errs = append(errs, fmt.Errorf("ingestion.queue_depth %d must be positive", cfg.Ingestion.QueueDepth))
	}
	if cfg.Ingestion.ClaimTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("ingestion.claim_timeout_ms %d must be positive", cfg.Ingestion.ClaimTimeoutMs))
	}
	if cfg.Ingestion.JanitorIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("ingestion.janitor_interval_ms %d must be positive", cfg.Ingestion.JanitorIntervalMs))
	}

	// Session
	if cfg.Session.TurnDeadlineMs <= 0 {
		errs = append(errs, fmt.Errorf("session.turn_deadline_ms %d must be positive", cfg.Session.TurnDeadlineMs))
	}
	if cfg.Session.HistoryTurns <= 0 {
		errs = append(errs, fmt.Errorf("session.history_turns %d must be positive", cfg.Session.HistoryTurns))
	}
	if cfg.Session.MaxCompletionTokens <= 0 {
		errs = append(errs, fmt.Errorf("session.max_completion_tokens %d must be positive", cfg.Session.MaxCompletionTokens))
	}

	// Doc
	if cfg.Doc.MaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("doc.max_bytes %d must be positive", cfg.Doc.MaxBytes))
	}

	// Vector
	errs = append(errs, checkName("vector.provider", cfg.Vector.Provider, knownVectorProviders)...)
	if cfg.Vector.Dim <= 0 {
		errs = append(errs, fmt.Errorf("vector.dim %d must be positive", cfg.Vector.Dim))
	}
	if cfg.Vector.Provider == "postgres" && cfg.Storage.DSN == "" {
		errs = append(errs, errors.New("vector.provider is postgres but storage.dsn is empty"))
	}

	// Blob
	errs = append(errs, checkName("blob.backend", cfg.Blob.Backend, knownBlobBackends)...)
	if cfg.Blob.Backend == "fs" && cfg.Blob.FS.Dir == "" {
		errs = append(errs, errors.New("blob.fs.dir is required when blob.backend is fs"))
	}
	if cfg.Blob.Backend == "s3" {
		if cfg.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("blob.s3.bucket is required when blob.backend is s3"))
		}
		if cfg.Blob.S3.Region == "" {
			errs = append(errs, errors.New("blob.s3.region is required when blob.backend is s3"))
		}
	}

	return errors.Join(errs...)
}

// checkName validates an enum-ish selector against the known list and, on a
// miss, attaches the closest known value as a suggestion.
func checkName(key, name string, known []string) []error {
	if name == "" {
		return []error{fmt.Errorf("%s is required", key)}
	}
	if slices.Contains(known, name) {
		return nil
	}
	if suggestion, ok := closest(name, known); ok {
		return []error{fmt.Errorf("%s %q is unknown (did you mean %q?)", key, name, suggestion)}
	}
	return []error{fmt.Errorf("%s %q is unknown; valid values: %s", key, name, strings.Join(known, ", "))}
}

// closest returns the known value nearest to name by Jaro-Winkler
// similarity, when the match is close enough to plausibly be a typo.
func closest(name string, known []string) (string, bool) {
	const threshold = 0.8
	best, bestScore := "", 0.0
	for _, candidate := range known {
		score := matchr.JaroWinkler(strings.ToLower(name), candidate, false)
		if score > bestScore {
			best, bestScore = candidate, score
		}
	}
	return best, bestScore >= threshold
}
