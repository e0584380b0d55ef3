package config

import (
	"errors"
	"fmt"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/pitchforge/pitchforge/pkg/provider/embeddings"
	embmock "github.com/pitchforge/pitchforge/pkg/provider/embeddings/mock"
	embollama "github.com/pitchforge/pitchforge/pkg/provider/embeddings/ollama"
	embopenai "github.com/pitchforge/pitchforge/pkg/provider/embeddings/openai"
	"github.com/pitchforge/pitchforge/pkg/provider/llm"
	"github.com/pitchforge/pitchforge/pkg/provider/llm/anyllm"
	llmmock "github.com/pitchforge/pitchforge/pkg/provider/llm/mock"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	llm        map[string]func(LLMConfig) (llm.Provider, error)
	embeddings map[string]func(LLMConfig) (embeddings.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:        make(map[string]func(LLMConfig) (llm.Provider, error)),
		embeddings: make(map[string]func(LLMConfig) (embeddings.Provider, error)),
	}
}

// DefaultRegistry returns a [Registry] with all built-in providers
// registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	for _, name := range []string{
		"openai", "anthropic", "gemini", "ollama", "deepseek",
		"mistral", "groq", "llamacpp", "llamafile",
	} {
		r.RegisterLLM(name, func(cfg LLMConfig) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if cfg.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
			}
			if cfg.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
			}
			return anyllm.New(name, cfg.Model, opts...)
		})
	}
	r.RegisterLLM("mock", func(LLMConfig) (llm.Provider, error) {
		return &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{Content: "mock completion"},
		}, nil
	})

	r.RegisterEmbeddings("openai", func(cfg LLMConfig) (embeddings.Provider, error) {
		key := cfg.EmbeddingAPIKey
		if key == "" {
			key = cfg.APIKey
		}
		var opts []embopenai.Option
		if cfg.EmbeddingBaseURL != "" {
			opts = append(opts, embopenai.WithBaseURL(cfg.EmbeddingBaseURL))
		}
		return embopenai.New(key, cfg.EmbeddingModel, opts...)
	})
	r.RegisterEmbeddings("ollama", func(cfg LLMConfig) (embeddings.Provider, error) {
		return embollama.New(cfg.EmbeddingBaseURL, cfg.EmbeddingModel)
	})
	r.RegisterEmbeddings("mock", func(cfg LLMConfig) (embeddings.Provider, error) {
		return &embmock.Provider{ModelIDValue: cfg.EmbeddingModel}, nil
	})

	return r
}

// RegisterLLM registers a completion provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(LLMConfig) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(LLMConfig) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// CreateLLM instantiates the completion provider selected by cfg.Provider.
// Returns [ErrProviderNotRegistered] if no factory is registered under that
// name.
func (r *Registry) CreateLLM(cfg LLMConfig) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}

// CreateEmbeddings instantiates the embeddings provider selected by
// cfg.EmbeddingProvider.
func (r *Registry) CreateEmbeddings(cfg LLMConfig) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embeddings[cfg.EmbeddingProvider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings/%q", ErrProviderNotRegistered, cfg.EmbeddingProvider)
	}
	return factory(cfg)
}
