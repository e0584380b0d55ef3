// Package embeddings defines the Provider interface for vector embedding
// backends.
//
// An embeddings provider maps text to dense float32 vectors. PitchForge
// embeds document chunks at ingestion time and queries at retrieval time;
// both must go through the same Provider so the vectors live in one space.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by a single Provider instance share the same
// dimensionality (returned by Dimensions), which must match the vector
// index the embeddings are stored in.
type Provider interface {
	// Embed computes the embedding for a single text. Returns a float32
	// slice of length Dimensions() or an error if the request fails or ctx
	// is cancelled. Text goes through verbatim; model-specific prompt
	// prefixes are the caller's responsibility.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds a slice of texts in one provider call. The result
	// has the same length as texts and result[i] corresponds to texts[i].
	// On error the entire result is nil; partial results are not returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every vector this provider
	// produces.
	Dimensions() int

	// ModelID returns the provider-specific model identifier
	// (e.g. "text-embedding-3-small"). Used in metrics labels and to key
	// the query-embedding cache, so it must be stable per model.
	ModelID() string
}
