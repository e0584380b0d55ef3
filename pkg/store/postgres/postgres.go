// Package postgres implements the PitchForge record stores on PostgreSQL.
//
// Transcripts, context payloads, and structured artifact content are stored
// as JSONB; everything else is plain columns. Lifecycle CAS operations are
// conditional UPDATEs whose row count distinguishes a lost race from a
// missing row.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitchforge/pitchforge/pkg/fault"
	"github.com/pitchforge/pitchforge/pkg/store"
	"github.com/pitchforge/pitchforge/pkg/types"
)

const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    id            UUID        PRIMARY KEY,
    tenant_id     TEXT        NOT NULL,
    filename      TEXT        NOT NULL DEFAULT '',
    mime          TEXT        NOT NULL DEFAULT '',
    byte_size     BIGINT      NOT NULL DEFAULT 0,
    source        TEXT        NOT NULL DEFAULT '',
    status        TEXT        NOT NULL,
    page_count    INT         NOT NULL DEFAULT 0,
    chunk_count   INT         NOT NULL DEFAULT 0,
    uploaded_at   TIMESTAMPTZ NOT NULL,
    indexed_at    TIMESTAMPTZ,
    claimed_at    TIMESTAMPTZ,
    error         TEXT        NOT NULL DEFAULT '',
    vector_orphan BOOLEAN     NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_documents_tenant_uploaded
    ON documents (tenant_id, uploaded_at DESC);

CREATE INDEX IF NOT EXISTS idx_documents_processing_claimed
    ON documents (claimed_at) WHERE status = 'PROCESSING';

CREATE INDEX IF NOT EXISTS idx_documents_orphans
    ON documents (uploaded_at) WHERE vector_orphan;

CREATE TABLE IF NOT EXISTS chunks (
    id          UUID    PRIMARY KEY,
    tenant_id   TEXT    NOT NULL,
    document_id UUID    NOT NULL,
    ordinal     INT     NOT NULL,
    body        TEXT    NOT NULL,
    page        INT     NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_chunks_tenant_document
    ON chunks (tenant_id, document_id, ordinal);

CREATE TABLE IF NOT EXISTS sessions (
    id               UUID        PRIMARY KEY,
    tenant_id        TEXT        NOT NULL,
    preparation_type TEXT        NOT NULL,
    context_payload  JSONB       NOT NULL DEFAULT 'null',
    transcript       JSONB       NOT NULL DEFAULT '[]',
    status           TEXT        NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL,
    completed_at     TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_sessions_tenant_created
    ON sessions (tenant_id, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_sessions_tenant_status
    ON sessions (tenant_id, status);

CREATE TABLE IF NOT EXISTS talk_points (
    id               UUID        PRIMARY KEY,
    tenant_id        TEXT        NOT NULL,
    topic            TEXT        NOT NULL,
    customer_context TEXT        NOT NULL DEFAULT '',
    deal_stage       TEXT        NOT NULL DEFAULT '',
    content          JSONB       NOT NULL,
    sources_used     INT         NOT NULL DEFAULT 0,
    created_at       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_talk_points_tenant_created
    ON talk_points (tenant_id, created_at DESC);

CREATE TABLE IF NOT EXISTS evaluations (
    session_id UUID        PRIMARY KEY,
    tenant_id  TEXT        NOT NULL,
    payload    JSONB       NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS company_profiles (
    tenant_id         TEXT        PRIMARY KEY,
    name              TEXT        NOT NULL DEFAULT '',
    description       TEXT        NOT NULL DEFAULT '',
    value_proposition TEXT        NOT NULL DEFAULT '',
    industry          TEXT        NOT NULL DEFAULT '',
    updated_at        TIMESTAMPTZ NOT NULL
);
`

// Store bundles the Postgres sub-stores over one connection pool.
type Store struct {
	pool    *pgxpool.Pool
	ownPool bool
}

// New connects to the database at dsn and runs the idempotent migration.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store postgres: migrate: %w", err)
	}
	return &Store{pool: pool, ownPool: true}, nil
}

// NewWithPool creates a Store over an existing pool. The migration still
// runs; the pool is not closed by Close.
func NewWithPool(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("store postgres: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool when the Store created it.
func (s *Store) Close() {
	if s.ownPool {
		s.pool.Close()
	}
}

// Ping checks database connectivity. Used by readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Documents returns the document sub-store.
func (s *Store) Documents() store.DocumentStore { return &DocumentStore{pool: s.pool} }

// Sessions returns the session sub-store.
func (s *Store) Sessions() store.SessionStore { return &SessionStore{pool: s.pool} }

// TalkPoints returns the talk-point sub-store.
func (s *Store) TalkPoints() store.TalkPointStore { return &TalkPointStore{pool: s.pool} }

// Evaluations returns the evaluation sub-store.
func (s *Store) Evaluations() store.EvaluationStore { return &EvaluationStore{pool: s.pool} }

// Profiles returns the company-profile sub-store.
func (s *Store) Profiles() store.ProfileStore { return &ProfileStore{pool: s.pool} }

// DocumentStore is the Postgres document and chunk store.
type DocumentStore struct {
	pool *pgxpool.Pool
}

var _ store.DocumentStore = (*DocumentStore)(nil)

const documentColumns = `id, tenant_id, filename, mime, byte_size, source, status,
	page_count, chunk_count, uploaded_at, indexed_at, claimed_at, error, vector_orphan`

func scanDocument(row pgx.CollectableRow) (types.Document, error) {
	var d types.Document
	err := row.Scan(&d.ID, &d.TenantID, &d.Filename, &d.MIME, &d.ByteSize, &d.Source,
		&d.Status, &d.PageCount, &d.ChunkCount, &d.UploadedAt, &d.IndexedAt,
		&d.ClaimedAt, &d.Error, &d.VectorOrphan)
	return d, err
}

func (s *DocumentStore) Create(ctx context.Context, doc *types.Document) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (id, tenant_id, filename, mime, byte_size, source, status, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		doc.ID, doc.TenantID, doc.Filename, doc.MIME, doc.ByteSize, doc.Source, doc.Status, doc.UploadedAt,
	)
	if err != nil {
		return fmt.Errorf("store postgres: create document: %w", err)
	}
	return nil
}

func (s *DocumentStore) Get(ctx context.Context, tenantID, documentID string) (*types.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE tenant_id = $1 AND id = $2`,
		tenantID, documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("store postgres: get document: %w", err)
	}
	doc, err := pgx.CollectOneRow(rows, scanDocument)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.Newf(fault.NotFound, "document %s not found", documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("store postgres: get document: %w", err)
	}
	return &doc, nil
}

func (s *DocumentStore) List(ctx context.Context, tenantID string, limit, skip int) ([]types.Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+documentColumns+`
		FROM   documents
		WHERE  tenant_id = $1 AND NOT vector_orphan
		ORDER  BY uploaded_at DESC, id
		LIMIT  $2 OFFSET $3`,
		tenantID, limit, skip,
	)
	if err != nil {
		return nil, fmt.Errorf("store postgres: list documents: %w", err)
	}
	docs, err := pgx.CollectRows(rows, scanDocument)
	if err != nil {
		return nil, fmt.Errorf("store postgres: list documents: %w", err)
	}
	return docs, nil
}

func (s *DocumentStore) Transition(ctx context.Context, tenantID, documentID string, from, to types.DocumentStatus, fields *store.TransitionFields) error {
	var (
		indexedAt, claimedAt  *time.Time
		chunkCount, pageCount *int
	)
	if fields != nil {
		indexedAt = fields.IndexedAt
		claimedAt = fields.ClaimedAt
		chunkCount = fields.ChunkCount
		pageCount = fields.PageCount
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE documents SET
		    status      = $4,
		    indexed_at  = COALESCE($5, indexed_at),
		    claimed_at  = COALESCE($6, claimed_at),
		    chunk_count = COALESCE($7, chunk_count),
		    page_count  = COALESCE($8, page_count)
		WHERE tenant_id = $1 AND id = $2 AND status = $3`,
		tenantID, documentID, from, to, indexedAt, claimedAt, chunkCount, pageCount,
	)
	if err != nil {
		return fmt.Errorf("store postgres: transition document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMiss(ctx, tenantID, documentID, from)
	}
	return nil
}

// classifyMiss turns a zero-row CAS into NOT_FOUND or STATE_CONFLICT.
func (s *DocumentStore) classifyMiss(ctx context.Context, tenantID, documentID string, want types.DocumentStatus) error {
	var status types.DocumentStatus
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM documents WHERE tenant_id = $1 AND id = $2`,
		tenantID, documentID,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fault.Newf(fault.NotFound, "document %s not found", documentID)
	}
	if err != nil {
		return fmt.Errorf("store postgres: classify transition miss: %w", err)
	}
	return fault.Newf(fault.StateConflict, "document %s is %s, expected %s", documentID, status, want)
}

func (s *DocumentStore) SetFailed(ctx context.Context, tenantID, documentID string, kind fault.Kind, detail string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE documents SET status = $3, error = $4
		WHERE tenant_id = $1 AND id = $2 AND status <> $3`,
		tenantID, documentID, types.DocFailed, fmt.Sprintf("%s: %s", kind, detail),
	)
	if err != nil {
		return fmt.Errorf("store postgres: fail document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM documents WHERE tenant_id = $1 AND id = $2)`,
			tenantID, documentID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("store postgres: fail document: %w", err)
		}
		if !exists {
			return fault.Newf(fault.NotFound, "document %s not found", documentID)
		}
	}
	return nil
}

func (s *DocumentStore) PutChunks(ctx context.Context, tenantID, documentID string, chunks []types.Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store postgres: put chunks: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM documents WHERE tenant_id = $1 AND id = $2)`,
		tenantID, documentID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("store postgres: put chunks: %w", err)
	}
	if !exists {
		return fault.Newf(fault.NotFound, "document %s not found", documentID)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM chunks WHERE tenant_id = $1 AND document_id = $2`,
		tenantID, documentID,
	); err != nil {
		return fmt.Errorf("store postgres: put chunks: %w", err)
	}
	for _, c := range chunks {
		if _, err := tx.Exec(ctx, `
			INSERT INTO chunks (id, tenant_id, document_id, ordinal, body, page)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			c.ID, tenantID, documentID, c.Ordinal, c.Text, c.Page,
		); err != nil {
			return fmt.Errorf("store postgres: put chunk %d: %w", c.Ordinal, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store postgres: put chunks: %w", err)
	}
	return nil
}

func (s *DocumentStore) DeleteChunks(ctx context.Context, tenantID, documentID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM chunks WHERE tenant_id = $1 AND document_id = $2`,
		tenantID, documentID,
	); err != nil {
		return fmt.Errorf("store postgres: delete chunks: %w", err)
	}
	return nil
}

func (s *DocumentStore) GetChunks(ctx context.Context, tenantID string, chunkIDs []string) ([]types.Chunk, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, document_id, ordinal, body, page
		FROM   chunks
		WHERE  tenant_id = $1 AND id = ANY($2)`,
		tenantID, chunkIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("store postgres: get chunks: %w", err)
	}
	found, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Chunk, error) {
		var c types.Chunk
		err := row.Scan(&c.ID, &c.TenantID, &c.DocumentID, &c.Ordinal, &c.Text, &c.Page)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("store postgres: get chunks: %w", err)
	}

	// Re-establish the requested order; vanished IDs are simply absent.
	byID := make(map[string]types.Chunk, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}
	out := make([]types.Chunk, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *DocumentStore) Delete(ctx context.Context, tenantID, documentID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store postgres: delete document: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM chunks WHERE tenant_id = $1 AND document_id = $2`,
		tenantID, documentID,
	); err != nil {
		return fmt.Errorf("store postgres: delete document chunks: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM documents WHERE tenant_id = $1 AND id = $2`,
		tenantID, documentID,
	); err != nil {
		return fmt.Errorf("store postgres: delete document: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store postgres: delete document: %w", err)
	}
	return nil
}

func (s *DocumentStore) MarkOrphan(ctx context.Context, tenantID, documentID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store postgres: mark orphan: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE documents SET vector_orphan = TRUE WHERE tenant_id = $1 AND id = $2`,
		tenantID, documentID,
	)
	if err != nil {
		return fmt.Errorf("store postgres: mark orphan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.Newf(fault.NotFound, "document %s not found", documentID)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM chunks WHERE tenant_id = $1 AND document_id = $2`,
		tenantID, documentID,
	); err != nil {
		return fmt.Errorf("store postgres: mark orphan: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store postgres: mark orphan: %w", err)
	}
	return nil
}

func (s *DocumentStore) ListOrphans(ctx context.Context, limit int) ([]types.Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+documentColumns+`
		FROM   documents
		WHERE  vector_orphan
		ORDER  BY uploaded_at
		LIMIT  $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store postgres: list orphans: %w", err)
	}
	docs, err := pgx.CollectRows(rows, scanDocument)
	if err != nil {
		return nil, fmt.Errorf("store postgres: list orphans: %w", err)
	}
	return docs, nil
}

func (s *DocumentStore) ListStale(ctx context.Context, cutoff time.Time) ([]types.Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+documentColumns+`
		FROM   documents
		WHERE  status = $1 AND claimed_at < $2
		ORDER  BY claimed_at`,
		types.DocProcessing, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("store postgres: list stale: %w", err)
	}
	docs, err := pgx.CollectRows(rows, scanDocument)
	if err != nil {
		return nil, fmt.Errorf("store postgres: list stale: %w", err)
	}
	return docs, nil
}

// SessionStore is the Postgres session store. Transcripts live in a JSONB
// column; appends are conditional on the current array length, which gives
// the same lost-write protection as a version column.
type SessionStore struct {
	pool *pgxpool.Pool
}

var _ store.SessionStore = (*SessionStore)(nil)

func (s *SessionStore) Create(ctx context.Context, sess *types.Session) error {
	payload := sess.ContextPayload
	if len(payload) == 0 {
		payload = []byte("null")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, tenant_id, preparation_type, context_payload, transcript, status, created_at)
		VALUES ($1, $2, $3, $4, '[]', $5, $6)`,
		sess.ID, sess.TenantID, sess.PreparationType, payload, sess.Status, sess.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store postgres: create session: %w", err)
	}
	return nil
}

func scanSession(row pgx.CollectableRow) (types.Session, error) {
	var (
		sess       types.Session
		payload    []byte
		transcript []byte
	)
	err := row.Scan(&sess.ID, &sess.TenantID, &sess.PreparationType, &payload,
		&transcript, &sess.Status, &sess.CreatedAt, &sess.CompletedAt)
	if err != nil {
		return types.Session{}, err
	}
	if string(payload) != "null" {
		sess.ContextPayload = payload
	}
	if err := json.Unmarshal(transcript, &sess.Transcript); err != nil {
		return types.Session{}, fmt.Errorf("decode transcript: %w", err)
	}
	return sess, nil
}

const sessionColumns = `id, tenant_id, preparation_type, context_payload, transcript, status, created_at, completed_at`

func (s *SessionStore) Get(ctx context.Context, tenantID, sessionID string) (*types.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE tenant_id = $1 AND id = $2`,
		tenantID, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("store postgres: get session: %w", err)
	}
	sess, err := pgx.CollectOneRow(rows, scanSession)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.Newf(fault.NotFound, "session %s not found", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("store postgres: get session: %w", err)
	}
	return &sess, nil
}

func (s *SessionStore) List(ctx context.Context, tenantID string, status types.SessionStatus, limit, skip int) ([]types.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM   sessions
		WHERE  tenant_id = $1 AND ($2 = '' OR status = $2)
		ORDER  BY created_at DESC, id
		LIMIT  $3 OFFSET $4`,
		tenantID, string(status), limit, skip,
	)
	if err != nil {
		return nil, fmt.Errorf("store postgres: list sessions: %w", err)
	}
	sessions, err := pgx.CollectRows(rows, scanSession)
	if err != nil {
		return nil, fmt.Errorf("store postgres: list sessions: %w", err)
	}
	return sessions, nil
}

func (s *SessionStore) AppendTurns(ctx context.Context, tenantID, sessionID string, expectedLen int, turns []types.TranscriptTurn) error {
	encoded, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("store postgres: encode turns: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET transcript = transcript || $4::jsonb
		WHERE tenant_id = $1 AND id = $2
		  AND status = 'IN_PROGRESS'
		  AND jsonb_array_length(transcript) = $3`,
		tenantID, sessionID, expectedLen, encoded,
	)
	if err != nil {
		return fmt.Errorf("store postgres: append turns: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var (
			status types.SessionStatus
			have   int
		)
		err := s.pool.QueryRow(ctx,
			`SELECT status, jsonb_array_length(transcript) FROM sessions WHERE tenant_id = $1 AND id = $2`,
			tenantID, sessionID,
		).Scan(&status, &have)
		if errors.Is(err, pgx.ErrNoRows) {
			return fault.Newf(fault.NotFound, "session %s not found", sessionID)
		}
		if err != nil {
			return fmt.Errorf("store postgres: append turns: %w", err)
		}
		if status != types.SessionInProgress {
			return fault.Newf(fault.StateConflict, "session %s is %s, transcript is frozen", sessionID, status)
		}
		return fault.Newf(fault.StateConflict,
			"session %s transcript moved: have %d turns, expected %d", sessionID, have, expectedLen)
	}
	return nil
}

func (s *SessionStore) SetStatus(ctx context.Context, tenantID, sessionID string, from, to types.SessionStatus, completedAt *time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store postgres: set session status: %w", err)
	}
	defer tx.Rollback(ctx)

	var current types.SessionStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM sessions WHERE tenant_id = $1 AND id = $2 FOR UPDATE`,
		tenantID, sessionID,
	).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fault.Newf(fault.NotFound, "session %s not found", sessionID)
	}
	if err != nil {
		return fmt.Errorf("store postgres: set session status: %w", err)
	}
	if from != "" && current != from {
		return fault.Newf(fault.StateConflict, "session %s is %s, expected %s", sessionID, current, from)
	}
	// Re-archiving is a no-op, not a conflict.
	if to == types.SessionArchived && current == types.SessionArchived {
		return nil
	}
	if !current.CanAdvanceTo(to) {
		return fault.Newf(fault.StateConflict, "session %s cannot move from %s to %s", sessionID, current, to)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE sessions SET status = $3, completed_at = COALESCE($4, completed_at)
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, sessionID, to, completedAt,
	); err != nil {
		return fmt.Errorf("store postgres: set session status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store postgres: set session status: %w", err)
	}
	return nil
}

// TalkPointStore is the Postgres talk-point store.
type TalkPointStore struct {
	pool *pgxpool.Pool
}

var _ store.TalkPointStore = (*TalkPointStore)(nil)

func (s *TalkPointStore) Create(ctx context.Context, a *types.TalkPointArtifact) error {
	content, err := json.Marshal(a.Content)
	if err != nil {
		return fmt.Errorf("store postgres: encode talk point: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO talk_points (id, tenant_id, topic, customer_context, deal_stage, content, sources_used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.TenantID, a.Topic, a.CustomerContext, string(a.DealStage), content, a.SourcesUsed, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store postgres: create talk point: %w", err)
	}
	return nil
}

func scanTalkPoint(row pgx.CollectableRow) (types.TalkPointArtifact, error) {
	var (
		a       types.TalkPointArtifact
		stage   string
		content []byte
	)
	err := row.Scan(&a.ID, &a.TenantID, &a.Topic, &a.CustomerContext, &stage,
		&content, &a.SourcesUsed, &a.CreatedAt)
	if err != nil {
		return types.TalkPointArtifact{}, err
	}
	a.DealStage = types.DealStage(stage)
	if err := json.Unmarshal(content, &a.Content); err != nil {
		return types.TalkPointArtifact{}, fmt.Errorf("decode content: %w", err)
	}
	return a, nil
}

const talkPointColumns = `id, tenant_id, topic, customer_context, deal_stage, content, sources_used, created_at`

func (s *TalkPointStore) Get(ctx context.Context, tenantID, talkPointID string) (*types.TalkPointArtifact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+talkPointColumns+` FROM talk_points WHERE tenant_id = $1 AND id = $2`,
		tenantID, talkPointID,
	)
	if err != nil {
		return nil, fmt.Errorf("store postgres: get talk point: %w", err)
	}
	a, err := pgx.CollectOneRow(rows, scanTalkPoint)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.Newf(fault.NotFound, "talk point %s not found", talkPointID)
	}
	if err != nil {
		return nil, fmt.Errorf("store postgres: get talk point: %w", err)
	}
	return &a, nil
}

func (s *TalkPointStore) List(ctx context.Context, tenantID string, limit, skip int) ([]types.TalkPointArtifact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+talkPointColumns+`
		FROM   talk_points
		WHERE  tenant_id = $1
		ORDER  BY created_at DESC, id
		LIMIT  $2 OFFSET $3`,
		tenantID, limit, skip,
	)
	if err != nil {
		return nil, fmt.Errorf("store postgres: list talk points: %w", err)
	}
	artifacts, err := pgx.CollectRows(rows, scanTalkPoint)
	if err != nil {
		return nil, fmt.Errorf("store postgres: list talk points: %w", err)
	}
	return artifacts, nil
}

func (s *TalkPointStore) Delete(ctx context.Context, tenantID, talkPointID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM talk_points WHERE tenant_id = $1 AND id = $2`,
		tenantID, talkPointID,
	); err != nil {
		return fmt.Errorf("store postgres: delete talk point: %w", err)
	}
	return nil
}

// EvaluationStore is the Postgres evaluation store. The structured result
// is stored as one JSONB payload keyed by session.
type EvaluationStore struct {
	pool *pgxpool.Pool
}

var _ store.EvaluationStore = (*EvaluationStore)(nil)

func (s *EvaluationStore) Upsert(ctx context.Context, ev *types.Evaluation) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("store postgres: encode evaluation: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO evaluations (session_id, tenant_id, payload, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO UPDATE SET
		    payload    = EXCLUDED.payload,
		    created_at = EXCLUDED.created_at`,
		ev.SessionID, ev.TenantID, payload, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store postgres: upsert evaluation: %w", err)
	}
	return nil
}

func (s *EvaluationStore) Get(ctx context.Context, tenantID, sessionID string) (*types.Evaluation, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM evaluations WHERE tenant_id = $1 AND session_id = $2`,
		tenantID, sessionID,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.Newf(fault.NotFound, "evaluation for session %s not found", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("store postgres: get evaluation: %w", err)
	}
	var ev types.Evaluation
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("store postgres: decode evaluation: %w", err)
	}
	ev.TenantID = tenantID
	ev.SessionID = sessionID
	return &ev, nil
}

// ProfileStore is the Postgres company-profile store, one row per tenant.
type ProfileStore struct {
	pool *pgxpool.Pool
}

var _ store.ProfileStore = (*ProfileStore)(nil)

func (s *ProfileStore) Upsert(ctx context.Context, p *types.CompanyProfile) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO company_profiles (tenant_id, name, description, value_proposition, industry, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id) DO UPDATE SET
		    name              = EXCLUDED.name,
		    description       = EXCLUDED.description,
		    value_proposition = EXCLUDED.value_proposition,
		    industry          = EXCLUDED.industry,
		    updated_at        = EXCLUDED.updated_at`,
		p.TenantID, p.Name, p.Description, p.ValueProposition, p.Industry, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store postgres: upsert profile: %w", err)
	}
	return nil
}

func (s *ProfileStore) Get(ctx context.Context, tenantID string) (*types.CompanyProfile, error) {
	var p types.CompanyProfile
	err := s.pool.QueryRow(ctx, `
		SELECT name, description, value_proposition, industry, updated_at
		FROM   company_profiles WHERE tenant_id = $1`,
		tenantID,
	).Scan(&p.Name, &p.Description, &p.ValueProposition, &p.Industry, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.Newf(fault.NotFound, "company profile for tenant %s not found", tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("store postgres: get profile: %w", err)
	}
	p.TenantID = tenantID
	return &p, nil
}
