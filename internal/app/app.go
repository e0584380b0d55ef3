// Package app wires all PitchForge subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithStores, WithIndex, etc.). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pitchforge/pitchforge/internal/api"
	"github.com/pitchforge/pitchforge/internal/chunker"
	"github.com/pitchforge/pitchforge/internal/config"
	"github.com/pitchforge/pitchforge/internal/evaluate"
	"github.com/pitchforge/pitchforge/internal/events"
	"github.com/pitchforge/pitchforge/internal/gateway"
	"github.com/pitchforge/pitchforge/internal/health"
	"github.com/pitchforge/pitchforge/internal/ingest"
	"github.com/pitchforge/pitchforge/internal/retrieval"
	"github.com/pitchforge/pitchforge/internal/session"
	"github.com/pitchforge/pitchforge/internal/talkpoints"
	"github.com/pitchforge/pitchforge/pkg/blob"
	blobfs "github.com/pitchforge/pitchforge/pkg/blob/fs"
	blobs3 "github.com/pitchforge/pitchforge/pkg/blob/s3"
	"github.com/pitchforge/pitchforge/pkg/extract"
	"github.com/pitchforge/pitchforge/pkg/provider/embeddings"
	"github.com/pitchforge/pitchforge/pkg/provider/llm"
	"github.com/pitchforge/pitchforge/pkg/store"
	storemem "github.com/pitchforge/pitchforge/pkg/store/memory"
	storepg "github.com/pitchforge/pitchforge/pkg/store/postgres"
	"github.com/pitchforge/pitchforge/pkg/vecindex"
	vecmem "github.com/pitchforge/pitchforge/pkg/vecindex/memory"
	vecpg "github.com/pitchforge/pitchforge/pkg/vecindex/postgres"
)

// Stores bundles the per-entity sub-stores of one storage backend. Both the
// Postgres and the in-memory backend satisfy it.
type Stores interface {
	Documents() store.DocumentStore
	Sessions() store.SessionStore
	TalkPoints() store.TalkPointStore
	Evaluations() store.EvaluationStore
	Profiles() store.ProfileStore
}

// pinger is implemented by backends that can probe their connection. Used
// to build readiness checks.
type pinger interface {
	Ping(ctx context.Context) error
}

// App owns all subsystem lifetimes and serves the PitchForge API.
type App struct {
	cfg *config.Config

	// Infrastructure — created in New or injected via options.
	stores   Stores
	index    vecindex.Index
	blobs    blob.Store
	registry *config.Registry
	llm      llm.Provider
	emb      embeddings.Provider

	// Subsystems — initialised in New, torn down in Shutdown.
	gw        *gateway.Gateway
	retriever *retrieval.Retriever
	sessions  *session.Engine
	talkPts   *talkpoints.Synthesizer
	evaluator *evaluate.Evaluator
	pipeline  *ingest.Pipeline
	hub       *events.Hub
	server    *api.Server
	metrics   *http.Server

	// closers run in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStores injects a storage backend instead of creating one from config.
func WithStores(s Stores) Option {
	return func(a *App) { a.stores = s }
}

// WithIndex injects a vector index instead of creating one from config.
func WithIndex(x vecindex.Index) Option {
	return func(a *App) { a.index = x }
}

// WithBlobStore injects a blob store instead of creating one from config.
func WithBlobStore(b blob.Store) Option {
	return func(a *App) { a.blobs = b }
}

// WithLLMProvider injects a completion provider, bypassing the registry.
func WithLLMProvider(p llm.Provider) Option {
	return func(a *App) { a.llm = p }
}

// WithEmbeddingsProvider injects an embedding provider, bypassing the
// registry.
func WithEmbeddingsProvider(p embeddings.Provider) Option {
	return func(a *App) { a.emb = p }
}

// WithRegistry injects a provider registry instead of the default one.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any piece of infrastructure.
//
// New performs all initialisation synchronously: store and index connection,
// provider construction, pipeline assembly, and route registration. The
// ingestion workers do not run until Run is called.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Storage backend ───────────────────────────────────────────────
	if err := a.initStores(ctx); err != nil {
		return nil, fmt.Errorf("app: init stores: %w", err)
	}

	// ── 2. Vector index ──────────────────────────────────────────────────
	if err := a.initIndex(ctx); err != nil {
		return nil, fmt.Errorf("app: init index: %w", err)
	}

	// ── 3. Blob store ────────────────────────────────────────────────────
	if err := a.initBlobs(ctx); err != nil {
		return nil, fmt.Errorf("app: init blobs: %w", err)
	}

	// ── 4. Providers + gateway ───────────────────────────────────────────
	if err := a.initGateway(); err != nil {
		return nil, fmt.Errorf("app: init gateway: %w", err)
	}

	// ── 5. Domain subsystems ─────────────────────────────────────────────
	a.retriever = retrieval.New(a.gw, a.index, a.stores.Documents())

	a.sessions = session.New(a.stores.Sessions(), a.retriever, a.gw, session.Config{
		HistoryTurns: cfg.Session.HistoryTurns,
		RetrievalK:   cfg.Retrieval.KChat,
		MaxTokens:    cfg.Session.MaxCompletionTokens,
		TurnDeadline: cfg.Session.TurnDeadline(),
	})

	a.talkPts = talkpoints.New(a.gw, a.retriever, a.stores.TalkPoints(), a.stores.Profiles(),
		talkpoints.WithK(cfg.Retrieval.KSynthesis))

	a.evaluator = evaluate.New(a.gw, a.stores.Sessions(), a.stores.Evaluations())

	// ── 6. Event hub + ingestion pipeline ────────────────────────────────
	a.hub = events.NewHub()
	a.closers = append(a.closers, func() error {
		a.hub.Close()
		return nil
	})

	a.pipeline = ingest.New(
		a.stores.Documents(), a.blobs, extract.NewPlaintext(),
		chunker.New(cfg.Chunker.SizeTokens, cfg.Chunker.OverlapTokens),
		a.gw, a.index, a.hub,
		ingest.Config{
			Workers:         cfg.Ingestion.Workers,
			QueueSize:       cfg.Ingestion.QueueDepth,
			EmbedBatchSize:  cfg.LLM.EmbedBatchSize,
			StaleAfter:      cfg.Ingestion.ClaimTimeout(),
			JanitorInterval: cfg.Ingestion.JanitorInterval(),
		},
	)

	// ── 7. HTTP server ───────────────────────────────────────────────────
	server, err := api.New(
		api.Config{
			Addr:           cfg.Server.Addr,
			MaxUploadBytes: cfg.Doc.MaxBytes,
		},
		api.Deps{
			Docs:      a.stores.Documents(),
			Profiles:  a.stores.Profiles(),
			Blobs:     a.blobs,
			Extractor: extract.NewPlaintext(),
			Index:     a.index,
			Pipeline:  a.pipeline,
			Sessions:  a.sessions,
			TalkPts:   a.talkPts,
			Evaluator: a.evaluator,
			Hub:       a.hub,
			Health:    health.New(a.checkers()...),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("app: init server: %w", err)
	}
	a.server = server

	// ── 8. Metrics listener ──────────────────────────────────────────────
	if cfg.Server.MetricsAddr != "" {
		a.metrics = &http.Server{
			Addr:              cfg.Server.MetricsAddr,
			Handler:           metricsMux(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStores sets up the relational store or uses an injected one. An empty
// DSN selects the in-memory store; all state is lost on restart.
func (a *App) initStores(ctx context.Context) error {
	if a.stores != nil {
		return nil
	}

	if a.cfg.Storage.DSN == "" {
		slog.Warn("storage.dsn not set, using in-memory store")
		a.stores = storemem.New()
		return nil
	}

	st, err := storepg.New(ctx, a.cfg.Storage.DSN)
	if err != nil {
		return err
	}
	a.stores = st
	a.closers = append(a.closers, func() error {
		st.Close()
		return nil
	})
	return nil
}

// initIndex sets up the vector index backend or uses an injected one.
func (a *App) initIndex(ctx context.Context) error {
	if a.index != nil {
		return nil
	}

	switch a.cfg.Vector.Provider {
	case "memory":
		a.index = vecmem.New(a.cfg.Vector.Dim)
		return nil

	case "postgres":
		x, err := vecpg.New(ctx, a.cfg.Storage.DSN, a.cfg.Vector.Dim)
		if err != nil {
			return err
		}
		a.index = x
		a.closers = append(a.closers, func() error {
			x.Close()
			return nil
		})
		return nil

	default:
		return fmt.Errorf("unknown vector provider %q", a.cfg.Vector.Provider)
	}
}

// initBlobs sets up the blob store backend or uses an injected one.
func (a *App) initBlobs(ctx context.Context) error {
	if a.blobs != nil {
		return nil
	}

	switch a.cfg.Blob.Backend {
	case "fs":
		b, err := blobfs.New(a.cfg.Blob.FS.Dir)
		if err != nil {
			return err
		}
		a.blobs = b
		return nil

	case "s3":
		b, err := blobs3.New(ctx, blobs3.Config{
			Bucket:   a.cfg.Blob.S3.Bucket,
			Region:   a.cfg.Blob.S3.Region,
			Endpoint: a.cfg.Blob.S3.Endpoint,
		})
		if err != nil {
			return err
		}
		a.blobs = b
		return nil

	default:
		return fmt.Errorf("unknown blob backend %q", a.cfg.Blob.Backend)
	}
}

// initGateway creates the completion and embedding providers from the
// registry (unless injected) and fronts them with the provider gateway.
func (a *App) initGateway() error {
	if a.registry == nil {
		a.registry = config.DefaultRegistry()
	}

	if a.llm == nil {
		p, err := a.registry.CreateLLM(a.cfg.LLM)
		if err != nil {
			return fmt.Errorf("create llm provider %q: %w", a.cfg.LLM.Provider, err)
		}
		a.llm = p
		slog.Info("provider created", "kind", "llm",
			"name", a.cfg.LLM.Provider, "model", a.cfg.LLM.Model)
	}

	if a.emb == nil {
		p, err := a.registry.CreateEmbeddings(a.cfg.LLM)
		if err != nil {
			return fmt.Errorf("create embeddings provider %q: %w", a.cfg.LLM.EmbeddingProvider, err)
		}
		a.emb = p
		slog.Info("provider created", "kind", "embeddings",
			"name", a.cfg.LLM.EmbeddingProvider, "model", a.cfg.LLM.EmbeddingModel)
	}

	gw, err := gateway.New(a.llm, a.emb, gateway.Config{
		LLMName:         a.cfg.LLM.Provider,
		EmbedBatchSize:  a.cfg.LLM.EmbedBatchSize,
		RequestDeadline: a.cfg.LLM.RequestDeadline(),
		RetryAttempts:   a.cfg.LLM.RetryBudget,
		RateRPS:         a.cfg.LLM.RateRPS,
		CacheSize:       a.cfg.LLM.EmbedCacheSize,
	})
	if err != nil {
		return err
	}
	a.gw = gw
	return nil
}

// checkers builds readiness checks for every backend that can be probed.
func (a *App) checkers() []health.Checker {
	var cs []health.Checker
	if p, ok := a.stores.(pinger); ok {
		cs = append(cs, health.Checker{Name: "storage", Check: p.Ping})
	}
	if p, ok := a.index.(pinger); ok {
		cs = append(cs, health.Checker{Name: "index", Check: p.Ping})
	}
	return cs
}

// metricsMux serves the Prometheus scrape endpoint. The OTel SDK bridges
// metrics into the default Prometheus registry.
func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the ingestion workers and serves HTTP until ctx is cancelled or
// a listener fails. On cancellation Run returns ctx.Err(); call Shutdown to
// tear the subsystems down.
func (a *App) Run(ctx context.Context) error {
	a.pipeline.Start()

	errCh := make(chan error, 2)

	go func() {
		slog.Info("api listening", "addr", a.cfg.Server.Addr)
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("app: api server: %w", err)
		}
	}()

	if a.metrics != nil {
		go func() {
			slog.Info("metrics listening", "addr", a.cfg.Server.MetricsAddr)
			err := a.metrics.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("app: metrics server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems: stop accepting HTTP traffic, drain the
// ingestion pipeline, then release backends in reverse-init order. It
// respects the context deadline: if ctx expires, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("api shutdown error", "err", err)
		}
		if a.metrics != nil {
			if err := a.metrics.Shutdown(ctx); err != nil {
				slog.Warn("metrics shutdown error", "err", err)
			}
		}
		if err := a.pipeline.Shutdown(ctx); err != nil {
			slog.Warn("pipeline shutdown error", "err", err)
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
