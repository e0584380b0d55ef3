// Package memory implements vecindex.Index as an in-process exact scan.
//
// It serves single-node deployments without Postgres and doubles as the
// test implementation. Entries live in per-tenant maps guarded by one
// RWMutex; queries score every entry, which is fine for the corpus sizes a
// single tenant uploads.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/pitchforge/pitchforge/pkg/fault"
	"github.com/pitchforge/pitchforge/pkg/vecindex"
)

// Index is the in-memory vector index. The zero value is not usable;
// construct with [New].
type Index struct {
	dim int

	mu      sync.RWMutex
	tenants map[string]map[string]vecindex.Entry // tenantID → chunkID → entry
}

// New creates an Index with the fixed embedding dimension dim.
func New(dim int) *Index {
	return &Index{dim: dim, tenants: make(map[string]map[string]vecindex.Entry)}
}

// Insert implements [vecindex.Index]. Inserting an embedding of the wrong
// dimension panics: dimension mismatch means the embedding model changed
// underneath the collection and must never be silently indexed.
func (x *Index) Insert(_ context.Context, tenantID string, entries []vecindex.Entry) error {
	if tenantID == "" {
		return fault.New(fault.Validation, "tenant id must not be empty")
	}
	for _, e := range entries {
		if len(e.Embedding) != x.dim {
			panic(fmt.Sprintf("vecindex: embedding dimension %d does not match collection dimension %d", len(e.Embedding), x.dim))
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	coll := x.tenants[tenantID]
	if coll == nil {
		coll = make(map[string]vecindex.Entry, len(entries))
		x.tenants[tenantID] = coll
	}
	for _, e := range entries {
		emb := make([]float32, len(e.Embedding))
		copy(emb, e.Embedding)
		e.Embedding = emb
		coll[e.ChunkID] = e
	}
	return nil
}

// DeleteByDocument implements [vecindex.Index].
func (x *Index) DeleteByDocument(_ context.Context, tenantID, documentID string) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	coll := x.tenants[tenantID]
	removed := 0
	for id, e := range coll {
		if e.Metadata.DocumentID == documentID {
			delete(coll, id)
			removed++
		}
	}
	return removed, nil
}

// Query implements [vecindex.Index].
func (x *Index) Query(_ context.Context, tenantID string, embedding []float32, k int) ([]vecindex.Match, error) {
	if len(embedding) != x.dim {
		panic(fmt.Sprintf("vecindex: query dimension %d does not match collection dimension %d", len(embedding), x.dim))
	}
	if k <= 0 {
		return nil, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	coll := x.tenants[tenantID]
	matches := make([]vecindex.Match, 0, len(coll))
	for _, e := range coll {
		matches = append(matches, vecindex.Match{
			ChunkID:  e.ChunkID,
			Metadata: e.Metadata,
			Score:    cosine(embedding, e.Embedding),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Metadata.Ordinal != b.Metadata.Ordinal {
			return a.Metadata.Ordinal < b.Metadata.Ordinal
		}
		return a.Metadata.DocumentID < b.Metadata.DocumentID
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Count implements [vecindex.Index].
func (x *Index) Count(_ context.Context, tenantID string) (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.tenants[tenantID]), nil
}

// Reset implements [vecindex.Index].
func (x *Index) Reset(_ context.Context, tenantID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.tenants, tenantID)
	return nil
}

// cosine computes cosine similarity between two equal-length vectors.
// Zero vectors score 0.
func cosine(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var _ vecindex.Index = (*Index)(nil)
