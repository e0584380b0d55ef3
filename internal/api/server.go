// Package api exposes the PitchForge HTTP surface: document intake, practice
// sessions, talk-point synthesis, evaluations, the company profile, and the
// per-tenant document event feed.
//
// Every route under /api/v1 requires the X-Tenant-ID header; failures render
// the uniform error envelope {"error": {kind, message, retryable}}.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/pitchforge/pitchforge/internal/evaluate"
	"github.com/pitchforge/pitchforge/internal/events"
	"github.com/pitchforge/pitchforge/internal/health"
	"github.com/pitchforge/pitchforge/internal/observe"
	"github.com/pitchforge/pitchforge/internal/session"
	"github.com/pitchforge/pitchforge/internal/talkpoints"
	"github.com/pitchforge/pitchforge/pkg/blob"
	"github.com/pitchforge/pitchforge/pkg/extract"
	"github.com/pitchforge/pitchforge/pkg/store"
	"github.com/pitchforge/pitchforge/pkg/vecindex"
)

// Enqueuer hands accepted documents to the ingestion pipeline.
type Enqueuer interface {
	Enqueue(ctx context.Context, tenantID, documentID string) error
}

// Config tunes the HTTP surface.
type Config struct {
	// Addr is the listen address (e.g. ":8080").
	Addr string

	// MaxUploadBytes caps document uploads. Zero means 10 MiB.
	MaxUploadBytes int64

	// WSWriteTimeout bounds one event write to a WebSocket subscriber.
	// Zero means 5s.
	WSWriteTimeout time.Duration

	// WSPingInterval is the keepalive cadence on event feeds. Zero means 30s.
	WSPingInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.MaxUploadBytes == 0 {
		c.MaxUploadBytes = 10 << 20
	}
	if c.WSWriteTimeout == 0 {
		c.WSWriteTimeout = 5 * time.Second
	}
	if c.WSPingInterval == 0 {
		c.WSPingInterval = 30 * time.Second
	}
	return c
}

// Deps collects everything the handlers need.
type Deps struct {
	Docs      store.DocumentStore
	Profiles  store.ProfileStore
	Blobs     blob.Store
	Extractor extract.Extractor
	Index     vecindex.Index
	Pipeline  Enqueuer
	Sessions  *session.Engine
	TalkPts   *talkpoints.Synthesizer
	Evaluator *evaluate.Evaluator
	Hub       *events.Hub
	Health    *health.Handler
	Metrics   *observe.Metrics
}

// Server is the PitchForge HTTP server.
type Server struct {
	cfg  Config
	echo *echo.Echo
	http *http.Server
	d    Deps
}

// New wires routes and middleware and returns a Server ready to Start.
func New(cfg Config, d Deps) (*Server, error) {
	switch {
	case d.Docs == nil, d.Blobs == nil, d.Extractor == nil, d.Index == nil,
		d.Pipeline == nil, d.Sessions == nil, d.TalkPts == nil,
		d.Evaluator == nil, d.Profiles == nil:
		return nil, errors.New("api: missing dependency")
	}
	if d.Metrics == nil {
		d.Metrics = observe.DefaultMetrics()
	}

	s := &Server{cfg: cfg.withDefaults(), echo: echo.New(), d: d}

	e := s.echo
	e.Use(recoverPanics())

	if d.Health != nil {
		e.GET("/healthz", func(c *echo.Context) error {
			d.Health.Healthz(c.Response(), c.Request())
			return nil
		})
		e.GET("/readyz", func(c *echo.Context) error {
			d.Health.Readyz(c.Response(), c.Request())
			return nil
		})
	}

	v1 := e.Group("/api/v1", requireTenant())

	v1.POST("/documents", s.uploadDocumentHandler)
	v1.GET("/documents", s.listDocumentsHandler)
	v1.GET("/documents/:id", s.getDocumentHandler)
	v1.DELETE("/documents/:id", s.deleteDocumentHandler)

	v1.POST("/sessions", s.createSessionHandler)
	v1.GET("/sessions", s.listSessionsHandler)
	v1.GET("/sessions/:id", s.getSessionHandler)
	v1.POST("/sessions/:id/messages", s.sessionMessageHandler)
	v1.POST("/sessions/:id/complete", s.completeSessionHandler)
	v1.POST("/sessions/:id/evaluate", s.evaluateSessionHandler)
	v1.GET("/sessions/:id/evaluate", s.getEvaluationHandler)
	v1.DELETE("/sessions/:id", s.archiveSessionHandler)

	v1.POST("/talk-points/generate", s.generateTalkPointsHandler)
	v1.GET("/talk-points", s.listTalkPointsHandler)
	v1.GET("/talk-points/:id", s.getTalkPointsHandler)
	v1.DELETE("/talk-points/:id", s.deleteTalkPointsHandler)

	v1.PUT("/profile", s.putProfileHandler)
	v1.GET("/profile", s.getProfileHandler)

	if d.Hub != nil {
		v1.GET("/events", s.eventsHandler)
	}

	s.http = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           observe.Middleware(d.Metrics)(e),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// ServeHTTP serves one request through the full middleware chain. Exposed
// for tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.http.Handler.ServeHTTP(w, r)
}

// Start runs the listener until Shutdown. It returns http.ErrServerClosed
// on clean shutdown.
func (s *Server) Start() error {
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}
