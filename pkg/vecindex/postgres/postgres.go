// Package postgres implements vecindex.Index on PostgreSQL with the
// pgvector extension.
//
// All tenants share one table; every statement filters on tenant_id, so
// isolation does not rely on any external ACL. Similarity queries use the
// cosine distance operator over an HNSW index.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/pitchforge/pitchforge/pkg/fault"
	"github.com/pitchforge/pitchforge/pkg/vecindex"
)

// Index is the pgvector-backed vector index. All methods are safe for
// concurrent use.
type Index struct {
	pool *pgxpool.Pool
	dim  int
}

// ddl returns the schema with the embedding dimension baked into the column
// type. Changing the dimension after the first migration requires a manual
// schema change.
func ddl(dim int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS vector_entries (
    chunk_id     UUID         PRIMARY KEY,
    tenant_id    TEXT         NOT NULL,
    document_id  UUID         NOT NULL,
    ordinal      INT          NOT NULL,
    page         INT          NOT NULL DEFAULT 0,
    embedding    vector(%d)   NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_vector_entries_tenant
    ON vector_entries (tenant_id);

CREATE INDEX IF NOT EXISTS idx_vector_entries_tenant_document
    ON vector_entries (tenant_id, document_id);

CREATE INDEX IF NOT EXISTS idx_vector_entries_embedding
    ON vector_entries USING hnsw (embedding vector_cosine_ops);
`, dim)
}

// New creates an Index backed by the database at dsn, registers pgvector
// types on every connection, and runs the idempotent migration.
//
// dim must match the output dimension of the configured embedding model.
func New(ctx context.Context, dsn string, dim int) (*Index, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("vecindex postgres: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("vecindex postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("vecindex postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddl(dim)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("vecindex postgres: migrate: %w", err)
	}

	return &Index{pool: pool, dim: dim}, nil
}

// NewWithPool creates an Index over an existing pool that already has
// pgvector types registered. The migration still runs.
func NewWithPool(ctx context.Context, pool *pgxpool.Pool, dim int) (*Index, error) {
	if _, err := pool.Exec(ctx, ddl(dim)); err != nil {
		return nil, fmt.Errorf("vecindex postgres: migrate: %w", err)
	}
	return &Index{pool: pool, dim: dim}, nil
}

// Close releases the underlying connection pool.
func (x *Index) Close() {
	x.pool.Close()
}

// Ping checks database connectivity. Used by readiness probes.
func (x *Index) Ping(ctx context.Context) error {
	return x.pool.Ping(ctx)
}

// Insert implements [vecindex.Index]. The batch runs in one transaction so
// the call is atomic; duplicate chunk IDs overwrite.
func (x *Index) Insert(ctx context.Context, tenantID string, entries []vecindex.Entry) error {
	if tenantID == "" {
		return fault.New(fault.Validation, "tenant id must not be empty")
	}
	for _, e := range entries {
		if len(e.Embedding) != x.dim {
			panic(fmt.Sprintf("vecindex: embedding dimension %d does not match collection dimension %d", len(e.Embedding), x.dim))
		}
	}
	if len(entries) == 0 {
		return nil
	}

	const q = `
		INSERT INTO vector_entries (chunk_id, tenant_id, document_id, ordinal, page, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (chunk_id) DO UPDATE SET
		    tenant_id   = EXCLUDED.tenant_id,
		    document_id = EXCLUDED.document_id,
		    ordinal     = EXCLUDED.ordinal,
		    page        = EXCLUDED.page,
		    embedding   = EXCLUDED.embedding`

	tx, err := x.pool.Begin(ctx)
	if err != nil {
		return fault.Wrap(fault.IndexUnavailable, "begin insert", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		if _, err := tx.Exec(ctx, q,
			e.ChunkID,
			tenantID,
			e.Metadata.DocumentID,
			e.Metadata.Ordinal,
			e.Metadata.Page,
			pgvector.NewVector(e.Embedding),
		); err != nil {
			return fault.Wrap(fault.IndexUnavailable, "insert entry", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fault.Wrap(fault.IndexUnavailable, "commit insert", err)
	}
	return nil
}

// DeleteByDocument implements [vecindex.Index].
func (x *Index) DeleteByDocument(ctx context.Context, tenantID, documentID string) (int, error) {
	tag, err := x.pool.Exec(ctx,
		`DELETE FROM vector_entries WHERE tenant_id = $1 AND document_id = $2`,
		tenantID, documentID,
	)
	if err != nil {
		return 0, fault.Wrap(fault.IndexUnavailable, "delete by document", err)
	}
	return int(tag.RowsAffected()), nil
}

// Query implements [vecindex.Index]. pgvector's <=> operator is cosine
// distance; score = 1 - distance.
func (x *Index) Query(ctx context.Context, tenantID string, embedding []float32, k int) ([]vecindex.Match, error) {
	if len(embedding) != x.dim {
		panic(fmt.Sprintf("vecindex: query dimension %d does not match collection dimension %d", len(embedding), x.dim))
	}
	if k <= 0 {
		return nil, nil
	}

	const q = `
		SELECT chunk_id, document_id, ordinal, page,
		       embedding <=> $2 AS distance
		FROM   vector_entries
		WHERE  tenant_id = $1
		ORDER  BY distance, ordinal, document_id
		LIMIT  $3`

	rows, err := x.pool.Query(ctx, q, tenantID, pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, fault.Wrap(fault.IndexUnavailable, "query", err)
	}

	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (vecindex.Match, error) {
		var (
			m        vecindex.Match
			distance float64
		)
		if err := row.Scan(&m.ChunkID, &m.Metadata.DocumentID, &m.Metadata.Ordinal, &m.Metadata.Page, &distance); err != nil {
			return vecindex.Match{}, err
		}
		m.Score = 1 - distance
		return m, nil
	})
	if err != nil {
		return nil, fault.Wrap(fault.IndexUnavailable, "scan rows", err)
	}
	return matches, nil
}

// Count implements [vecindex.Index].
func (x *Index) Count(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := x.pool.QueryRow(ctx,
		`SELECT count(*) FROM vector_entries WHERE tenant_id = $1`, tenantID,
	).Scan(&n)
	if err != nil {
		return 0, fault.Wrap(fault.IndexUnavailable, "count", err)
	}
	return n, nil
}

// Reset implements [vecindex.Index].
func (x *Index) Reset(ctx context.Context, tenantID string) error {
	if _, err := x.pool.Exec(ctx,
		`DELETE FROM vector_entries WHERE tenant_id = $1`, tenantID,
	); err != nil {
		return fault.Wrap(fault.IndexUnavailable, "reset", err)
	}
	return nil
}

var _ vecindex.Index = (*Index)(nil)
