// Package retrieval turns a free-text query into ranked, hydrated document
// chunks. It glues the embedding gateway, the vector index, and the chunk
// store together: embed the query, find the nearest vectors, then load the
// chunk bodies in ranked order.
package retrieval

import (
	"context"
	"log/slog"
	"time"

	"github.com/pitchforge/pitchforge/internal/observe"
	"github.com/pitchforge/pitchforge/pkg/fault"
	"github.com/pitchforge/pitchforge/pkg/store"
	"github.com/pitchforge/pitchforge/pkg/vecindex"
)

// Embedder is the slice of the LLM gateway retrieval needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// RetrievedChunk is one ranked result with its hydrated text.
type RetrievedChunk struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Ordinal    int     `json:"ordinal"`
	Page       int     `json:"page,omitempty"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// DefaultChatK is the result count for session turns.
const DefaultChatK = 5

// DefaultSynthesisK is the result count for talk-point generation.
const DefaultSynthesisK = 10

// Retriever answers similarity queries over a tenant's indexed documents.
// Safe for concurrent use.
type Retriever struct {
	embedder Embedder
	index    vecindex.Index
	docs     store.DocumentStore
	metrics  *observe.Metrics
}

// New builds a Retriever over the given gateway, index, and chunk store.
func New(embedder Embedder, index vecindex.Index, docs store.DocumentStore) *Retriever {
	return &Retriever{
		embedder: embedder,
		index:    index,
		docs:     docs,
		metrics:  observe.DefaultMetrics(),
	}
}

// Retrieve embeds queryText, queries the tenant's index for the k nearest
// chunks, and hydrates their text from the store in ranked order. A chunk
// that was deleted between the index query and hydration is dropped — the
// race with document deletion is benign, the eventual vector cleanup will
// remove the stale entry.
func (r *Retriever) Retrieve(ctx context.Context, tenantID, queryText string, k int) ([]RetrievedChunk, error) {
	if queryText == "" {
		return nil, fault.New(fault.Validation, "query text is required")
	}
	if k <= 0 {
		k = DefaultChatK
	}

	vecs, err := r.embedder.Embed(ctx, []string{queryText})
	if err != nil {
		return nil, err
	}

	began := time.Now()
	matches, err := r.index.Query(ctx, tenantID, vecs[0], k)
	r.metrics.VectorQueryDuration.Record(ctx, time.Since(began).Seconds())
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		r.metrics.RetrievalResults.Add(ctx, 0)
		return nil, nil
	}

	ids := make([]string, len(matches))
	byID := make(map[string]vecindex.Match, len(matches))
	for i, m := range matches {
		ids[i] = m.ChunkID
		byID[m.ChunkID] = m
	}

	chunks, err := r.docs.GetChunks(ctx, tenantID, ids)
	if err != nil {
		return nil, err
	}

	results := make([]RetrievedChunk, 0, len(chunks))
	for _, c := range chunks {
		m := byID[c.ID]
		results = append(results, RetrievedChunk{
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			Ordinal:    c.Ordinal,
			Page:       c.Page,
			Text:       c.Text,
			Score:      m.Score,
		})
	}
	if dropped := len(matches) - len(results); dropped > 0 {
		slog.InfoContext(ctx, "dropped vanished chunks from retrieval",
			"tenant_id", tenantID,
			"dropped", dropped)
	}

	r.metrics.RetrievalResults.Add(ctx, int64(len(results)))
	return results, nil
}
