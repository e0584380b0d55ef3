// Package ingest runs the asynchronous document pipeline: claim an uploaded
// document, extract its text, chunk it, embed the chunks, persist them, and
// index the vectors. A pool of workers drains an in-process queue; a janitor
// reclaims documents whose worker died mid-flight and finishes vector
// cleanup for deleted documents.
//
// The pipeline is idempotent per document: chunk IDs derive from
// (document ID, ordinal) and vector inserts overwrite, so processing the
// same document twice converges on the same state.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pitchforge/pitchforge/internal/chunker"
	"github.com/pitchforge/pitchforge/internal/events"
	"github.com/pitchforge/pitchforge/internal/observe"
	"github.com/pitchforge/pitchforge/internal/resilience"
	"github.com/pitchforge/pitchforge/pkg/blob"
	"github.com/pitchforge/pitchforge/pkg/extract"
	"github.com/pitchforge/pitchforge/pkg/fault"
	"github.com/pitchforge/pitchforge/pkg/store"
	"github.com/pitchforge/pitchforge/pkg/types"
	"github.com/pitchforge/pitchforge/pkg/vecindex"
)

// Embedder is the slice of the LLM gateway the pipeline needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Config tunes the pipeline. The zero value is usable.
type Config struct {
	// Workers is the number of concurrent pipeline workers. Default: 4.
	Workers int

	// QueueSize is the capacity of the in-process job queue. Default: 64.
	QueueSize int

	// EmbedBatchSize is the number of chunk texts embedded per gateway
	// call. Default: 64.
	EmbedBatchSize int

	// EmbedParallelism bounds concurrent embedding calls per document.
	// Default: 4.
	EmbedParallelism int

	// StaleAfter is how long a PROCESSING claim may go unrefreshed before
	// the janitor reclaims the document. Default: 5m.
	StaleAfter time.Duration

	// JanitorInterval is the sweep period for stale claims and vector
	// orphans. Default: 1m.
	JanitorInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = 64
	}
	if c.EmbedParallelism <= 0 {
		c.EmbedParallelism = 4
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 5 * time.Minute
	}
	if c.JanitorInterval <= 0 {
		c.JanitorInterval = time.Minute
	}
	return c
}

// job is one queued document.
type job struct {
	tenantID   string
	documentID string
	// reclaimed marks a job re-enqueued by the janitor: the document is
	// already PROCESSING and the claim is refreshed instead of taken.
	reclaimed bool
}

// Pipeline is the ingestion worker pool. Construct with New, then Start.
type Pipeline struct {
	docs      store.DocumentStore
	blobs     blob.Store
	extractor extract.Extractor
	chunker   *chunker.Chunker
	embedder  Embedder
	index     vecindex.Index
	hub       *events.Hub
	cfg       Config
	metrics   *observe.Metrics

	queue  chan job
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// New builds a Pipeline. The hub may be nil when no event feed is wanted.
func New(docs store.DocumentStore, blobs blob.Store, extractor extract.Extractor,
	ch *chunker.Chunker, embedder Embedder, index vecindex.Index,
	hub *events.Hub, cfg Config) *Pipeline {

	cfg = cfg.withDefaults()
	return &Pipeline{
		docs:      docs,
		blobs:     blobs,
		extractor: extractor,
		chunker:   ch,
		embedder:  embedder,
		index:     index,
		hub:       hub,
		cfg:       cfg,
		metrics:   observe.DefaultMetrics(),
		queue:     make(chan job, cfg.QueueSize),
	}
}

// Start launches the worker pool and the janitor. Call Shutdown to stop.
func (p *Pipeline) Start() {
	p.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		p.cancel = cancel

		for i := 0; i < p.cfg.Workers; i++ {
			p.wg.Add(1)
			go p.worker(ctx)
		}
		p.wg.Add(1)
		go p.janitor(ctx)
	})
}

// Shutdown stops accepting progress and waits for in-flight documents, up
// to ctx's deadline. In-flight work cut off mid-document is reclaimed by
// the janitor on the next start.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ingest: shutdown: %w", ctx.Err())
	}
}

// Enqueue submits a document for processing. Blocks while the queue is full
// until ctx expires.
func (p *Pipeline) Enqueue(ctx context.Context, tenantID, documentID string) error {
	select {
	case p.queue <- job{tenantID: tenantID, documentID: documentID}:
		p.metrics.QueueDepth.Add(ctx, 1)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ingest: enqueue: %w", ctx.Err())
	}
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-p.queue:
			p.metrics.QueueDepth.Add(ctx, -1)
			p.process(ctx, j)
		}
	}
}

// process runs one document through the pipeline end to end.
func (p *Pipeline) process(ctx context.Context, j job) {
	log := slog.With("tenant_id", j.tenantID, "document_id", j.documentID)
	began := time.Now()

	// Claim. Exactly one worker wins the UPLOADING→PROCESSING CAS; a
	// reclaimed job refreshes the existing PROCESSING claim instead.
	now := time.Now().UTC()
	from := types.DocUploading
	if j.reclaimed {
		from = types.DocProcessing
	}
	err := p.docs.Transition(ctx, j.tenantID, j.documentID, from, types.DocProcessing,
		&store.TransitionFields{ClaimedAt: &now})
	if err != nil {
		// Another worker holds the document, or it was deleted. Both are
		// normal outcomes of the claim race.
		log.Debug("skipping document, claim not won", "error", err)
		return
	}
	p.publish(j.tenantID, j.documentID, types.DocProcessing, "")

	doc, err := p.docs.Get(ctx, j.tenantID, j.documentID)
	if err != nil {
		log.Error("loading claimed document", "error", err)
		return
	}

	data, err := p.blobs.Get(ctx, doc.Source)
	if err != nil {
		p.fail(ctx, j, fault.ExtractionError, fmt.Sprintf("reading source payload: %v", err))
		return
	}

	res, err := p.extractor.Extract(ctx, data, doc.MIME)
	if err != nil {
		p.fail(ctx, j, fault.ExtractionError, err.Error())
		return
	}

	pieces := p.split(res)
	pageCount := res.PageCount()
	chunkCount := len(pieces)

	if chunkCount > 0 {
		chunks := make([]types.Chunk, chunkCount)
		texts := make([]string, chunkCount)
		for i, piece := range pieces {
			chunks[i] = types.Chunk{
				ID:         types.ChunkID(j.documentID, piece.Ordinal),
				DocumentID: j.documentID,
				TenantID:   j.tenantID,
				Ordinal:    piece.Ordinal,
				Text:       piece.Text,
				Page:       piece.Page,
			}
			texts[i] = piece.Text
		}

		vecs, err := p.embedAll(ctx, texts)
		if err != nil {
			p.fail(ctx, j, fault.EmbeddingError, err.Error())
			return
		}

		if err := p.docs.PutChunks(ctx, j.tenantID, j.documentID, chunks); err != nil {
			log.Error("persisting chunks", "error", err)
			p.fail(ctx, j, fault.Internal, "persisting chunks failed")
			return
		}

		entries := make([]vecindex.Entry, chunkCount)
		for i, c := range chunks {
			entries[i] = vecindex.Entry{
				ChunkID:   c.ID,
				Embedding: vecs[i],
				Metadata:  vecindex.Metadata{DocumentID: c.DocumentID, Ordinal: c.Ordinal, Page: c.Page},
			}
		}
		if err := p.index.Insert(ctx, j.tenantID, entries); err != nil {
			// Keep chunks and vectors consistent: a document must never
			// look retrievable while its vectors are missing.
			if delErr := p.docs.DeleteChunks(ctx, j.tenantID, j.documentID); delErr != nil {
				log.Error("rolling back chunks after index failure", "error", delErr)
			}
			p.fail(ctx, j, fault.IndexError, err.Error())
			return
		}
	}

	indexedAt := time.Now().UTC()
	err = p.docs.Transition(ctx, j.tenantID, j.documentID, types.DocProcessing, types.DocIndexed,
		&store.TransitionFields{IndexedAt: &indexedAt, ChunkCount: &chunkCount, PageCount: &pageCount})
	if err != nil {
		log.Error("finishing document", "error", err)
		return
	}

	p.publish(j.tenantID, j.documentID, types.DocIndexed, "")
	p.metrics.IngestDuration.Record(ctx, time.Since(began).Seconds())
	p.metrics.RecordIngestOutcome(ctx, "indexed")
	log.Info("document indexed",
		"chunks", chunkCount,
		"pages", pageCount,
		"duration", time.Since(began))
}

// split runs the chunker over the extraction result, page-aware when the
// extractor reported pages.
func (p *Pipeline) split(res extract.Result) []chunker.Piece {
	if len(res.Pages) == 0 {
		return p.chunker.Split(res.Text)
	}
	pages := make([]chunker.Page, len(res.Pages))
	for i, pg := range res.Pages {
		pages[i] = chunker.Page{Number: pg.Number, Text: pg.Text}
	}
	return p.chunker.SplitPages(pages)
}

// embedAll embeds texts in batches with bounded parallelism, preserving
// input order.
func (p *Pipeline) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.EmbedParallelism)
	for start := 0; start < len(texts); start += p.cfg.EmbedBatchSize {
		end := min(start+p.cfg.EmbedBatchSize, len(texts))
		g.Go(func() error {
			batch, err := p.embedder.Embed(ctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(vecs[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vecs, nil
}

// fail parks the document in its terminal FAILED state and notifies
// subscribers. SetFailed keeps the first recorded failure, so retrying
// workers cannot overwrite the root cause.
func (p *Pipeline) fail(ctx context.Context, j job, kind fault.Kind, detail string) {
	if err := p.docs.SetFailed(ctx, j.tenantID, j.documentID, kind, detail); err != nil {
		slog.Error("marking document failed",
			"tenant_id", j.tenantID,
			"document_id", j.documentID,
			"error", err)
		return
	}
	p.publish(j.tenantID, j.documentID, types.DocFailed, fmt.Sprintf("%s: %s", kind, detail))
	p.metrics.RecordIngestOutcome(ctx, "failed")
}

func (p *Pipeline) publish(tenantID, documentID string, status types.DocumentStatus, detail string) {
	if p.hub != nil {
		p.hub.PublishDocumentStatus(tenantID, documentID, status, detail)
	}
}

// janitor periodically reclaims stale PROCESSING documents and retries
// vector deletes for orphaned documents.
func (p *Pipeline) janitor(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

// orphanSweepLimit bounds one orphan pass so a large backlog cannot starve
// stale-claim recovery.
const orphanSweepLimit = 100

// sweep is one janitor pass.
func (p *Pipeline) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-p.cfg.StaleAfter)
	stale, err := p.docs.ListStale(ctx, cutoff)
	if err != nil {
		slog.Error("listing stale documents", "error", err)
	}
	for _, doc := range stale {
		select {
		case p.queue <- job{tenantID: doc.TenantID, documentID: doc.ID, reclaimed: true}:
			p.metrics.QueueDepth.Add(ctx, 1)
			slog.Info("reclaimed stale document",
				"tenant_id", doc.TenantID,
				"document_id", doc.ID)
		default:
			// Queue full; the next sweep will pick it up again.
		}
	}

	orphans, err := p.docs.ListOrphans(ctx, orphanSweepLimit)
	if err != nil {
		slog.Error("listing orphaned documents", "error", err)
		return
	}
	for _, doc := range orphans {
		err := resilience.Retry(ctx, resilience.RetryConfig{Name: "orphan vector delete"},
			func(ctx context.Context) error {
				_, err := p.index.DeleteByDocument(ctx, doc.TenantID, doc.ID)
				return err
			})
		if err != nil {
			slog.Warn("orphan vector delete still failing",
				"tenant_id", doc.TenantID,
				"document_id", doc.ID,
				"error", err)
			continue
		}
		if err := p.docs.Delete(ctx, doc.TenantID, doc.ID); err != nil {
			slog.Error("removing orphaned document row",
				"tenant_id", doc.TenantID,
				"document_id", doc.ID,
				"error", err)
		}
	}
}
