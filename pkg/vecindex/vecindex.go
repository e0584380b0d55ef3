// Package vecindex defines the per-tenant vector index used for retrieval.
//
// The index stores (chunk ID, embedding, metadata) entries partitioned by
// tenant; queries never cross tenants. Implementations live in the memory
// (in-process exact scan, also the test double) and postgres (pgvector)
// subpackages — callers cannot tell which is behind the interface.
package vecindex

import (
	"context"
)

// Metadata locates an entry's chunk within the primary store.
type Metadata struct {
	DocumentID string
	Ordinal    int
	Page       int
}

// Entry is one indexed vector. Embedding length must equal the collection's
// fixed dimension; a mismatch is a fatal invariant, not a user error.
type Entry struct {
	ChunkID   string
	Embedding []float32
	Metadata  Metadata
}

// Match is one query result, most similar first. Score is cosine similarity
// in [-1, 1].
type Match struct {
	ChunkID  string
	Metadata Metadata
	Score    float64
}

// Index is the per-tenant vector store.
//
// Implementations must be safe for concurrent use and must scope every
// operation by tenant — entries of one tenant are never visible to another.
type Index interface {
	// Insert adds entries to the tenant's collection, atomically per call.
	// An entry with an existing chunk ID overwrites the previous one.
	Insert(ctx context.Context, tenantID string, entries []Entry) error

	// DeleteByDocument removes every entry whose metadata carries documentID
	// and returns the number removed.
	DeleteByDocument(ctx context.Context, tenantID, documentID string) (int, error)

	// Query returns the k entries most similar to embedding by cosine
	// similarity, score descending. Ties break by ascending ordinal, then
	// document ID.
	Query(ctx context.Context, tenantID string, embedding []float32, k int) ([]Match, error)

	// Count returns the number of entries in the tenant's collection.
	Count(ctx context.Context, tenantID string) (int, error)

	// Reset removes every entry of the tenant. Administrative use only.
	Reset(ctx context.Context, tenantID string) error
}
