// Package postgres provides the pgvector-backed vector index backend. Rows
// live in an index_segments table keyed (creator, video_id, position), with
// an HNSW index over the embedding column for inner-product search via the
// <#> operator. The pgvector extension must be available in the target
// database; [Migrate] installs it via CREATE EXTENSION IF NOT EXISTS.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	segmentsTable = "index_segments"
	rebuildTable  = "index_segments_rebuild"
)

// ddlSegments returns the segments DDL for the named table. The embedding
// dimension is baked into the column type at schema creation time; changing
// it afterwards requires a manual schema change.
func ddlSegments(table string, embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS %[1]s (
    seq         BIGSERIAL,
    creator     TEXT             NOT NULL,
    video_id    TEXT             NOT NULL,
    position    INTEGER          NOT NULL,
    start_sec   DOUBLE PRECISION NOT NULL,
    end_sec     DOUBLE PRECISION NOT NULL,
    text        TEXT             NOT NULL,
    upload_date TEXT             NOT NULL DEFAULT '',
    indexed_at  TIMESTAMPTZ      NOT NULL DEFAULT now(),
    embedding   vector(%[2]d)    NOT NULL,
    PRIMARY KEY (creator, video_id, position)
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_creator
    ON %[1]s (creator);

CREATE INDEX IF NOT EXISTS idx_%[1]s_embedding
    ON %[1]s USING hnsw (embedding vector_ip_ops);
`, table, embeddingDimensions)
}

// Migrate creates or ensures the segments table and its indexes exist. It
// is idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddlSegments(segmentsTable, embeddingDimensions)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
