// Package observe provides application-wide observability primitives for
// PitchForge: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all PitchForge metrics.
const meterName = "github.com/pitchforge/pitchforge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// LLMDuration tracks completion latency at the provider gateway.
	LLMDuration metric.Float64Histogram

	// EmbedDuration tracks embedding latency per provider batch.
	EmbedDuration metric.Float64Histogram

	// IngestDuration tracks a document's extract → chunk → embed → index
	// pipeline latency.
	IngestDuration metric.Float64Histogram

	// VectorQueryDuration tracks similarity-query latency at the index.
	VectorQueryDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// LLMTokens counts prompt and completion tokens. Use with attribute:
	//   attribute.String("direction", "prompt"|"completion")
	LLMTokens metric.Int64Counter

	// EmbedTexts counts texts embedded across all batches.
	EmbedTexts metric.Int64Counter

	// IngestOutcomes counts finished ingestion runs. Use with attribute:
	//   attribute.String("outcome", "indexed"|"failed"|"reclaimed")
	IngestOutcomes metric.Int64Counter

	// RetrievalResults counts chunks returned to callers per retrieval.
	RetrievalResults metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of IN_PROGRESS preparation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// QueueDepth tracks the number of documents waiting for an ingestion
	// worker.
	QueueDepth metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// both fast index queries and slow LLM completions.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.LLMDuration, err = m.Float64Histogram("pitchforge.llm.duration",
		metric.WithDescription("Latency of LLM completions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmbedDuration, err = m.Float64Histogram("pitchforge.embed.duration",
		metric.WithDescription("Latency of embedding provider batches."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.IngestDuration, err = m.Float64Histogram("pitchforge.ingest.duration",
		metric.WithDescription("End-to-end document ingestion latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.VectorQueryDuration, err = m.Float64Histogram("pitchforge.vector.query.duration",
		metric.WithDescription("Latency of vector index similarity queries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("pitchforge.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.LLMTokens, err = m.Int64Counter("pitchforge.llm.tokens",
		metric.WithDescription("Total LLM tokens by direction."),
	); err != nil {
		return nil, err
	}
	if met.EmbedTexts, err = m.Int64Counter("pitchforge.embed.texts",
		metric.WithDescription("Total texts embedded across all batches."),
	); err != nil {
		return nil, err
	}
	if met.IngestOutcomes, err = m.Int64Counter("pitchforge.ingest.outcomes",
		metric.WithDescription("Finished ingestion runs by outcome."),
	); err != nil {
		return nil, err
	}
	if met.RetrievalResults, err = m.Int64Counter("pitchforge.retrieval.results",
		metric.WithDescription("Chunks returned to callers per retrieval."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("pitchforge.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("pitchforge.active_sessions",
		metric.WithDescription("Number of IN_PROGRESS preparation sessions."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("pitchforge.ingest.queue_depth",
		metric.WithDescription("Documents waiting for an ingestion worker."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("pitchforge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordTokens records prompt and completion token counts for one
// completion call.
func (m *Metrics) RecordTokens(ctx context.Context, prompt, completion int) {
	if prompt > 0 {
		m.LLMTokens.Add(ctx, int64(prompt),
			metric.WithAttributes(attribute.String("direction", "prompt")))
	}
	if completion > 0 {
		m.LLMTokens.Add(ctx, int64(completion),
			metric.WithAttributes(attribute.String("direction", "completion")))
	}
}

// RecordIngestOutcome records one finished ingestion run.
func (m *Metrics) RecordIngestOutcome(ctx context.Context, outcome string) {
	m.IngestOutcomes.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}
