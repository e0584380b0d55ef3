// Package store defines the primary record store for PitchForge: documents
// and their chunks, sessions with embedded transcripts, talk-point
// artifacts, evaluations, and company profiles.
//
// Every operation is scoped by tenant ID; an entity addressed under the
// wrong tenant behaves exactly like a missing one (NOT_FOUND). Lifecycle
// changes go through compare-and-set operations that fail with
// STATE_CONFLICT instead of overwriting concurrent writers — the CAS on a
// document's status is the ingestion pipeline's only concurrency control.
//
// Implementations live in the memory and postgres subpackages. They are
// exposed as sub-stores (Documents, Sessions, …) because several stores
// share method names with different signatures.
package store

import (
	"context"
	"time"

	"github.com/pitchforge/pitchforge/pkg/fault"
	"github.com/pitchforge/pitchforge/pkg/types"
)

// TransitionFields carries the optional field updates a status transition
// applies atomically with the CAS. Nil pointers leave fields untouched.
type TransitionFields struct {
	IndexedAt  *time.Time
	ClaimedAt  *time.Time
	ChunkCount *int
	PageCount  *int
}

// DocumentStore owns Document and Chunk rows. No other component mutates
// them.
type DocumentStore interface {
	// Create inserts doc with its caller-assigned UUID. The initial status
	// must be UPLOADING.
	Create(ctx context.Context, doc *types.Document) error

	// Get returns the document, or NOT_FOUND when it does not exist within
	// the tenant's scope.
	Get(ctx context.Context, tenantID, documentID string) (*types.Document, error)

	// List returns up to limit documents ordered by upload time descending,
	// skipping the first skip. Orphaned rows (deleted documents awaiting
	// vector cleanup) are excluded.
	List(ctx context.Context, tenantID string, limit, skip int) ([]types.Document, error)

	// Transition compare-and-sets the status from from to to, applying
	// fields in the same atomic step. Returns STATE_CONFLICT when the
	// current status is not from. from == to is legal and used by the
	// janitor's claim refresh.
	Transition(ctx context.Context, tenantID, documentID string, from, to types.DocumentStatus, fields *TransitionFields) error

	// SetFailed moves the document to FAILED recording kind and detail.
	// Idempotent: failing an already-FAILED document keeps the first error.
	SetFailed(ctx context.Context, tenantID, documentID string, kind fault.Kind, detail string) error

	// PutChunks replaces every chunk of the document with chunks.
	PutChunks(ctx context.Context, tenantID, documentID string, chunks []types.Chunk) error

	// DeleteChunks removes every chunk of the document.
	DeleteChunks(ctx context.Context, tenantID, documentID string) error

	// GetChunks returns the chunks for the given IDs in the order requested,
	// silently omitting IDs that no longer exist.
	GetChunks(ctx context.Context, tenantID string, chunkIDs []string) ([]types.Chunk, error)

	// Delete removes the document row and its chunks. Idempotent; the
	// caller is responsible for ordering the vector-index delete around it.
	Delete(ctx context.Context, tenantID, documentID string) error

	// MarkOrphan removes the document's chunks but parks the row with the
	// vector-orphan flag so the janitor can retry the index delete.
	MarkOrphan(ctx context.Context, tenantID, documentID string) error

	// ListOrphans returns up to limit orphaned documents across all
	// tenants, oldest first. Janitor input.
	ListOrphans(ctx context.Context, limit int) ([]types.Document, error)

	// ListStale returns PROCESSING documents across all tenants whose claim
	// is older than cutoff. Janitor input; claims are refreshed by the
	// worker's PROCESSING→PROCESSING transition, not here.
	ListStale(ctx context.Context, cutoff time.Time) ([]types.Document, error)
}

// SessionStore owns Session rows and their embedded transcripts.
type SessionStore interface {
	Create(ctx context.Context, s *types.Session) error
	Get(ctx context.Context, tenantID, sessionID string) (*types.Session, error)

	// List returns sessions ordered by creation time descending. A non-empty
	// status filters the result.
	List(ctx context.Context, tenantID string, status types.SessionStatus, limit, skip int) ([]types.Session, error)

	// AppendTurns appends turns to the transcript if and only if the session
	// is IN_PROGRESS and its transcript currently holds expectedLen turns.
	// The whole batch is written atomically; a moved transcript yields
	// STATE_CONFLICT.
	AppendTurns(ctx context.Context, tenantID, sessionID string, expectedLen int, turns []types.TranscriptTurn) error

	// SetStatus compare-and-sets the session status. An empty from matches
	// any current status that may legally advance to to. Archiving an
	// already ARCHIVED session is a no-op, not a conflict.
	SetStatus(ctx context.Context, tenantID, sessionID string, from, to types.SessionStatus, completedAt *time.Time) error
}

// TalkPointStore owns TalkPointArtifact rows. Artifacts are immutable after
// creation.
type TalkPointStore interface {
	Create(ctx context.Context, a *types.TalkPointArtifact) error
	Get(ctx context.Context, tenantID, talkPointID string) (*types.TalkPointArtifact, error)
	List(ctx context.Context, tenantID string, limit, skip int) ([]types.TalkPointArtifact, error)
	Delete(ctx context.Context, tenantID, talkPointID string) error
}

// EvaluationStore owns Evaluation rows, one per session.
type EvaluationStore interface {
	// Upsert writes the evaluation, replacing any prior one for the session.
	Upsert(ctx context.Context, e *types.Evaluation) error
	Get(ctx context.Context, tenantID, sessionID string) (*types.Evaluation, error)
}

// ProfileStore owns the optional per-tenant CompanyProfile.
type ProfileStore interface {
	Upsert(ctx context.Context, p *types.CompanyProfile) error

	// Get returns the tenant's profile, or NOT_FOUND when none was set.
	Get(ctx context.Context, tenantID string) (*types.CompanyProfile, error)
}
