// Package gateway is the single entry point for all LLM and embedding
// provider traffic. Callers never talk to a provider directly: the gateway
// applies deadlines, a shared rate limit, a retry budget with exponential
// backoff, response-shape validation, and token accounting so that every
// provider call in the system behaves the same way.
//
// # Usage
//
//	gw, err := gateway.New(llmProvider, embProvider, gateway.Config{})
//	if err != nil { ... }
//
//	vecs, err := gw.Embed(ctx, []string{"hello", "world"})
//
//	var out talkPointDraft
//	err = gw.CompleteJSON(ctx, req, schemaBytes, &out)
package gateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/time/rate"

	"github.com/pitchforge/pitchforge/internal/observe"
	"github.com/pitchforge/pitchforge/internal/resilience"
	"github.com/pitchforge/pitchforge/pkg/fault"
	"github.com/pitchforge/pitchforge/pkg/provider/embeddings"
	"github.com/pitchforge/pitchforge/pkg/provider/llm"
	"github.com/pitchforge/pitchforge/pkg/types"
)

// Config tunes the gateway. The zero value is usable; every field has a
// sensible default applied by New.
type Config struct {
	// LLMName labels the completion provider in metrics and logs.
	// Default: "llm".
	LLMName string

	// EmbedBatchSize is the maximum number of texts sent to the embedding
	// provider in one call. Default: 64.
	EmbedBatchSize int

	// RequestDeadline bounds a single Complete or Embed call when the
	// caller's context has no earlier deadline. Default: 30s.
	RequestDeadline time.Duration

	// RetryAttempts is the total attempt budget per provider call,
	// including the first. Default: 3.
	RetryAttempts int

	// RetryBaseDelay is the backoff before the second attempt. Default: 100ms.
	RetryBaseDelay time.Duration

	// RateRPS is the sustained provider request rate shared by all
	// callers. Zero disables rate limiting.
	RateRPS float64

	// RateBurst is the limiter burst size. Default: max(1, ceil(RateRPS)).
	RateBurst int

	// CacheSize is the number of query-embedding entries kept in the LRU
	// cache. Default: 512. Negative disables the cache.
	CacheSize int

	// JSONRetries is how many times CompleteJSON re-issues the request
	// after a parse or schema-validation failure. Default: 2.
	JSONRetries int
}

func (c Config) withDefaults() Config {
	if c.LLMName == "" {
		c.LLMName = "llm"
	}
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = 64
	}
	if c.RequestDeadline <= 0 {
		c.RequestDeadline = 30 * time.Second
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 100 * time.Millisecond
	}
	if c.CacheSize == 0 {
		c.CacheSize = 512
	}
	if c.JSONRetries <= 0 {
		c.JSONRetries = 2
	}
	if c.RateBurst <= 0 {
		c.RateBurst = int(c.RateRPS) + 1
	}
	return c
}

// Gateway fronts one completion provider and one embedding provider.
// Safe for concurrent use.
type Gateway struct {
	llm     llm.Provider
	emb     embeddings.Provider
	cfg     Config
	limiter *rate.Limiter
	cache   *lru.Cache[string, []float32]
	metrics *observe.Metrics
}

// New builds a Gateway over the given providers.
func New(llmProvider llm.Provider, embProvider embeddings.Provider, cfg Config) (*Gateway, error) {
	if llmProvider == nil {
		return nil, errors.New("gateway: llm provider is required")
	}
	if embProvider == nil {
		return nil, errors.New("gateway: embeddings provider is required")
	}
	cfg = cfg.withDefaults()

	g := &Gateway{
		llm:     llmProvider,
		emb:     embProvider,
		cfg:     cfg,
		metrics: observe.DefaultMetrics(),
	}
	if cfg.RateRPS > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RateRPS), cfg.RateBurst)
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, []float32](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("gateway: embedding cache: %w", err)
		}
		g.cache = cache
	}
	return g, nil
}

// Dimensions reports the embedding vector length of the wrapped provider.
func (g *Gateway) Dimensions() int { return g.emb.Dimensions() }

// retryIf stops the budget early for errors that more attempts cannot fix.
func retryIf(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if fault.IsKind(err, fault.ProviderInvalid) {
		return false
	}
	return true
}

func (g *Gateway) retryConfig(name string) resilience.RetryConfig {
	return resilience.RetryConfig{
		Name:      name,
		Attempts:  g.cfg.RetryAttempts,
		BaseDelay: g.cfg.RetryBaseDelay,
		RetryIf:   retryIf,
	}
}

// wait blocks on the shared rate limiter, if one is configured.
func (g *Gateway) wait(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("gateway: rate limit wait: %w", err)
	}
	return nil
}

// withDeadline applies the configured deadline unless the caller's context
// already expires sooner.
func (g *Gateway) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.cfg.RequestDeadline)
}

// embedCacheKey hashes model ID and text so cache entries never survive a
// model change.
func (g *Gateway) embedCacheKey(text string) string {
	sum := sha256.Sum256([]byte(g.emb.ModelID() + "\x00" + text))
	return string(sum[:])
}

// Embed returns one embedding vector per input text, in input order. Inputs
// are sent to the provider in batches of at most Config.EmbedBatchSize.
// Transport failures exhaust the retry budget and come back as
// PROVIDER_UNAVAILABLE; a response with the wrong vector count or dimension
// is PROVIDER_INVALID. Single-text calls are served from the LRU cache when
// the same query was embedded before.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	// Query path: single text, cache eligible.
	var cacheKey string
	if len(texts) == 1 && g.cache != nil {
		cacheKey = g.embedCacheKey(texts[0])
		if vec, ok := g.cache.Get(cacheKey); ok {
			out := make([]float32, len(vec))
			copy(out, vec)
			return [][]float32{out}, nil
		}
	}

	ctx, cancel := g.withDeadline(ctx)
	defer cancel()

	dim := g.emb.Dimensions()
	result := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += g.cfg.EmbedBatchSize {
		end := min(start+g.cfg.EmbedBatchSize, len(texts))
		batch := texts[start:end]

		var vecs [][]float32
		began := time.Now()
		err := resilience.Retry(ctx, g.retryConfig("embed"), func(ctx context.Context) error {
			if err := g.wait(ctx); err != nil {
				return err
			}
			var callErr error
			vecs, callErr = g.emb.EmbedBatch(ctx, batch)
			if callErr != nil {
				return callErr
			}
			if len(vecs) != len(batch) {
				return fault.Newf(fault.ProviderInvalid,
					"embedding count mismatch: got %d vectors for %d texts", len(vecs), len(batch))
			}
			for i, v := range vecs {
				if len(v) != dim {
					return fault.Newf(fault.ProviderInvalid,
						"embedding %d has dimension %d, want %d", i, len(v), dim)
				}
			}
			return nil
		})
		g.metrics.EmbedDuration.Record(ctx, time.Since(began).Seconds())
		if err != nil {
			g.metrics.RecordProviderError(ctx, g.emb.ModelID(), "embeddings")
			g.metrics.RecordProviderRequest(ctx, g.emb.ModelID(), "embeddings", "error")
			if fault.IsKind(err, fault.ProviderInvalid) {
				return nil, err
			}
			return nil, fault.Wrap(fault.ProviderUnavailable, "embedding provider unavailable", err)
		}
		g.metrics.RecordProviderRequest(ctx, g.emb.ModelID(), "embeddings", "ok")
		g.metrics.EmbedTexts.Add(ctx, int64(len(batch)))
		result = append(result, vecs...)
	}

	if cacheKey != "" {
		cached := make([]float32, len(result[0]))
		copy(cached, result[0])
		g.cache.Add(cacheKey, cached)
	}
	return result, nil
}

// Complete issues one chat completion through the retry budget and records
// token usage. Transport failures after the budget come back as
// PROVIDER_UNAVAILABLE.
func (g *Gateway) Complete(ctx context.Context, req llm.CompletionRequest) (string, types.Usage, error) {
	ctx, cancel := g.withDeadline(ctx)
	defer cancel()

	var resp *llm.CompletionResponse
	began := time.Now()
	err := resilience.Retry(ctx, g.retryConfig("complete"), func(ctx context.Context) error {
		if err := g.wait(ctx); err != nil {
			return err
		}
		var callErr error
		resp, callErr = g.llm.Complete(ctx, req)
		return callErr
	})
	g.metrics.LLMDuration.Record(ctx, time.Since(began).Seconds())
	if err != nil {
		g.metrics.RecordProviderError(ctx, g.cfg.LLMName, "llm")
		g.metrics.RecordProviderRequest(ctx, g.cfg.LLMName, "llm", "error")
		return "", types.Usage{}, fault.Wrap(fault.ProviderUnavailable, "completion provider unavailable", err)
	}
	g.metrics.RecordProviderRequest(ctx, g.cfg.LLMName, "llm", "ok")
	g.metrics.RecordTokens(ctx, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return resp.Content, resp.Usage, nil
}

// jsonReminder is appended to the system prompt when the model returned
// something that did not parse or validate.
const jsonReminder = "You MUST respond with a single valid JSON object matching " +
	"the provided schema. No prose, no markdown, no code fences."

// CompleteJSON requests a completion, strips any markdown code fences,
// parses the result as JSON, validates it against schema, and unmarshals it
// into out. On a parse or validation failure the request is re-issued up to
// Config.JSONRetries more times with an escalating instruction; when every
// attempt produces invalid output the error kind is PROVIDER_INVALID.
func (g *Gateway) CompleteJSON(ctx context.Context, req llm.CompletionRequest, schema []byte, out any) error {
	compiled, err := compileSchema(schema)
	if err != nil {
		return fmt.Errorf("gateway: compile schema: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= g.cfg.JSONRetries; attempt++ {
		if attempt > 0 {
			req.SystemPrompt = strings.TrimSpace(req.SystemPrompt + "\n\n" +
				strings.Repeat("IMPORTANT: ", attempt) + jsonReminder)
		}

		content, _, err := g.Complete(ctx, req)
		if err != nil {
			return err
		}

		cleaned := stripFences(content)
		inst, err := jsonschema.UnmarshalJSON(strings.NewReader(cleaned))
		if err != nil {
			lastErr = fmt.Errorf("parse response: %w", err)
			continue
		}
		if err := compiled.Validate(inst); err != nil {
			lastErr = fmt.Errorf("validate response: %w", err)
			continue
		}
		if err := json.Unmarshal([]byte(cleaned), out); err != nil {
			lastErr = fmt.Errorf("decode response: %w", err)
			continue
		}
		return nil
	}
	return fault.Wrap(fault.ProviderInvalid, "model returned invalid JSON", lastErr)
}

func compileSchema(schema []byte) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schema))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("inline.json", doc); err != nil {
		return nil, err
	}
	return compiler.Compile("inline.json")
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag, from a model response.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// Drop the language tag line ("json", "JSON", or empty).
		first := strings.TrimSpace(s[:i])
		if len(first) <= 10 && !strings.ContainsAny(first, "{}[]") {
			s = s[i+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
