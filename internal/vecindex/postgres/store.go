package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/reelsonar/internal/vecindex"
	"github.com/MrWong99/reelsonar/pkg/faults"
	"github.com/MrWong99/reelsonar/pkg/types"
)

// Compile-time interface check.
var _ vecindex.Index = (*Store)(nil)

// Store is the pgvector-backed [vecindex.Index]. It holds a single
// [pgxpool.Pool]; all operations are safe for concurrent use, with
// PostgreSQL providing the snapshot isolation the flat backend gets from
// its in-memory swap.
type Store struct {
	pool *pgxpool.Pool
	dim  int
}

// NewStore connects to the PostgreSQL database at dsn, registers pgvector
// types on every connection, and runs [Migrate]. embeddingDimensions must
// match the configured embeddings model; unlike the flat backend it cannot
// be inferred, because the column type needs it up front.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	if embeddingDimensions <= 0 {
		return nil, faults.Newf(faults.Validation, "vecindex: open postgres",
			"embedding_dimensions must be set for the postgres backend")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, faults.Wrap(faults.Validation, "vecindex: parse postgres dsn", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, faults.Wrap(faults.Network, "vecindex: create postgres pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, faults.Wrap(faults.Network, "vecindex: ping postgres", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, faults.Wrap(faults.Internal, "vecindex: migrate", err)
	}
	return &Store{pool: pool, dim: embeddingDimensions}, nil
}

type videoKey struct {
	creator string
	videoID string
}

// Append implements [vecindex.Index]. The whole batch commits in one
// transaction; videos that already have rows are skipped whole, and
// ON CONFLICT DO NOTHING guards the races a concurrent appender could
// still win.
func (s *Store) Append(ctx context.Context, segments []vecindex.Segment) error {
	if len(segments) == 0 {
		return nil
	}
	norm, _, err := vecindex.NormalizeBatch(s.dim, segments)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return faults.Wrap(faults.IndexWrite, "vecindex: begin append", err)
	}
	defer tx.Rollback(ctx)

	const existsQ = `SELECT EXISTS (SELECT 1 FROM index_segments WHERE creator = $1 AND video_id = $2)`
	const insertQ = `
		INSERT INTO index_segments
		    (creator, video_id, position, start_sec, end_sec, text, upload_date, indexed_at, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (creator, video_id, position) DO NOTHING`

	now := time.Now().UTC()
	skip := make(map[videoKey]bool)
	pos := make(map[videoKey]int)
	appended := 0
	for _, seg := range norm {
		key := videoKey{seg.Creator, seg.VideoID}
		exists, checked := skip[key]
		if !checked {
			if err := tx.QueryRow(ctx, existsQ, seg.Creator, seg.VideoID).Scan(&exists); err != nil {
				return faults.Wrap(faults.IndexWrite, "vecindex: check video", err)
			}
			skip[key] = exists
		}
		if exists {
			continue
		}
		indexedAt := seg.IndexedAt
		if indexedAt.IsZero() {
			indexedAt = now
		}
		p := pos[key]
		pos[key] = p + 1
		_, err := tx.Exec(ctx, insertQ,
			seg.Creator, seg.VideoID, p,
			seg.StartSec, seg.EndSec, seg.Text, seg.UploadDate, indexedAt,
			pgvector.NewVector(seg.Embedding),
		)
		if err != nil {
			return faults.Wrap(faults.IndexWrite, "vecindex: insert segment", err)
		}
		appended++
	}
	if err := tx.Commit(ctx); err != nil {
		return faults.Wrap(faults.IndexWrite, "vecindex: commit append", err)
	}

	slog.Debug("segments appended",
		"count", appended, "skipped_videos", len(skip)-len(pos))
	return nil
}

// Search implements [vecindex.Index]. <#> is pgvector's negative inner
// product, so ascending distance order is best-first and the score is its
// negation.
func (s *Store) Search(ctx context.Context, query []float32, k int) ([]vecindex.Result, error) {
	out := []vecindex.Result{}
	if k <= 0 {
		return out, nil
	}
	if len(query) != s.dim {
		return nil, faults.Newf(faults.EmbeddingMismatch, "vecindex: search",
			"query dimension %d, index dimension %d", len(query), s.dim)
	}

	const q = `
		SELECT seq, creator, video_id, start_sec, end_sec, text, upload_date, indexed_at,
		       -(embedding <#> $1) AS score
		FROM   index_segments
		ORDER  BY embedding <#> $1
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(query), k)
	if err != nil {
		return nil, faults.Wrap(faults.Internal, "vecindex: search", err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (vecindex.Result, error) {
		var (
			r   vecindex.Result
			seq int64
		)
		if err := row.Scan(
			&seq,
			&r.Segment.Creator,
			&r.Segment.VideoID,
			&r.Segment.StartSec,
			&r.Segment.EndSec,
			&r.Segment.Text,
			&r.Segment.UploadDate,
			&r.Segment.IndexedAt,
			&r.Score,
		); err != nil {
			return vecindex.Result{}, err
		}
		r.Segment.SegmentID = int(seq)
		return r, nil
	})
	if err != nil {
		return nil, faults.Wrap(faults.Internal, "vecindex: scan results", err)
	}
	if results == nil {
		results = []vecindex.Result{}
	}
	return results, nil
}

// Size implements [vecindex.Index].
func (s *Store) Size(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM index_segments`).Scan(&n); err != nil {
		return 0, faults.Wrap(faults.Internal, "vecindex: size", err)
	}
	return n, nil
}

// Creators implements [vecindex.Index].
func (s *Store) Creators(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT creator FROM index_segments ORDER BY creator`)
	if err != nil {
		return nil, faults.Wrap(faults.Internal, "vecindex: list creators", err)
	}
	creators, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, faults.Wrap(faults.Internal, "vecindex: scan creators", err)
	}
	if creators == nil {
		creators = []string{}
	}
	return creators, nil
}

// HasVideo implements [vecindex.Index].
func (s *Store) HasVideo(ctx context.Context, creator, videoID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM index_segments WHERE creator = $1 AND video_id = $2)`
	var exists bool
	if err := s.pool.QueryRow(ctx, q, types.NormalizeHandle(creator), videoID).Scan(&exists); err != nil {
		return false, faults.Wrap(faults.Internal, "vecindex: check video", err)
	}
	return exists, nil
}

// Rebuild implements [vecindex.Index]. The feed fills a staging table;
// when it completes, one transaction truncates the live table, copies the
// staged rows across in staging order, and drops the staging table. A
// failed rebuild leaves the live table untouched.
func (s *Store) Rebuild(ctx context.Context, feed vecindex.RebuildFeed) error {
	if _, err := s.pool.Exec(ctx, `DROP TABLE IF EXISTS `+rebuildTable); err != nil {
		return faults.Wrap(faults.IndexWrite, "vecindex: drop stale staging", err)
	}
	if _, err := s.pool.Exec(ctx, ddlSegments(rebuildTable, s.dim)); err != nil {
		return faults.Wrap(faults.IndexWrite, "vecindex: create staging", err)
	}

	const insertQ = `
		INSERT INTO index_segments_rebuild
		    (creator, video_id, position, start_sec, end_sec, text, upload_date, indexed_at, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	seen := make(map[videoKey]bool)
	staged := 0
	emit := func(segments []vecindex.Segment) error {
		norm, _, err := vecindex.NormalizeBatch(s.dim, segments)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		batch := make(map[videoKey]int)
		for _, seg := range norm {
			key := videoKey{seg.Creator, seg.VideoID}
			if seen[key] {
				continue
			}
			indexedAt := seg.IndexedAt
			if indexedAt.IsZero() {
				indexedAt = now
			}
			p := batch[key]
			batch[key] = p + 1
			_, err := s.pool.Exec(ctx, insertQ,
				seg.Creator, seg.VideoID, p,
				seg.StartSec, seg.EndSec, seg.Text, seg.UploadDate, indexedAt,
				pgvector.NewVector(seg.Embedding),
			)
			if err != nil {
				return faults.Wrap(faults.IndexWrite, "vecindex: stage segment", err)
			}
			staged++
		}
		for key := range batch {
			seen[key] = true
		}
		return nil
	}

	if err := feed(ctx, emit); err != nil {
		s.pool.Exec(ctx, `DROP TABLE IF EXISTS `+rebuildTable)
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return faults.Wrap(faults.IndexWrite, "vecindex: begin swap", err)
	}
	defer tx.Rollback(ctx)
	swap := []string{
		`TRUNCATE index_segments RESTART IDENTITY`,
		`INSERT INTO index_segments
		    (creator, video_id, position, start_sec, end_sec, text, upload_date, indexed_at, embedding)
		 SELECT creator, video_id, position, start_sec, end_sec, text, upload_date, indexed_at, embedding
		 FROM   index_segments_rebuild
		 ORDER  BY seq`,
		`DROP TABLE ` + rebuildTable,
	}
	for _, stmt := range swap {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return faults.Wrap(faults.IndexWrite, "vecindex: swap rebuild", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return faults.Wrap(faults.IndexWrite, "vecindex: commit rebuild", err)
	}

	slog.Info("vector index rebuilt", "rows", staged, "dim", s.dim)
	return nil
}

// Close implements [vecindex.Index]. It releases all pooled connections.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
