// Package vecindex provides the shared dense vector index behind semantic
// search: an append-only store of L2-normalised float32 embeddings with a
// 1:1 positional metadata row per vector.
//
// Two backends implement [Index]. [Flat] keeps vectors in a packed binary
// file beside a JSONL metadata log under DATA_DIR/search and serves
// searches from an in-memory snapshot; the postgres subpackage stores rows
// in a pgvector table and ranks with the inner-product operator. Both
// de-duplicate appends by {creator, video_id}: a video that already has
// segments in the index is skipped whole, which makes re-running ingestion
// over processed videos harmless.
package vecindex

import (
	"context"
	"time"

	"github.com/MrWong99/reelsonar/pkg/faults"
	"github.com/MrWong99/reelsonar/pkg/types"
)

// Segment is one indexed span of a transcript. SegmentID is assigned by the
// index on append — it is the row's position in the append sequence.
// Embedding is only populated on the way in; search results carry metadata
// without the vector.
type Segment struct {
	SegmentID  int       `json:"segment_id"`
	Creator    string    `json:"creator"`
	VideoID    string    `json:"video_id"`
	StartSec   float64   `json:"start_sec"`
	EndSec     float64   `json:"end_sec"`
	Text       string    `json:"text"`
	UploadDate string    `json:"upload_date,omitempty"`
	IndexedAt  time.Time `json:"indexed_at"`
	Embedding  []float32 `json:"-"`
}

// Result is one search hit. Score is the inner product of the query and the
// segment vector; with L2-normalised vectors that equals their cosine.
type Result struct {
	Segment Segment
	Score   float64
}

// RebuildFeed supplies the segments for a full index rebuild. It is called
// once and must emit every segment batch in the desired order; emit returns
// an error when the rebuild cannot accept more rows, at which point the
// feed should stop and return it.
type RebuildFeed func(ctx context.Context, emit func(segments []Segment) error) error

// Index is the vector store shared by ingestion and search.
//
// Implementations serialise writers internally; Search may run concurrently
// with Append and always observes a consistent snapshot, either before or
// after the append, never a torn one.
type Index interface {
	// Append commits the segments. Videos that already have rows in the
	// index are skipped whole. A segment whose embedding dimension differs
	// from the index dimension fails the whole call with an
	// EmbeddingMismatch fault and nothing commits.
	Append(ctx context.Context, segments []Segment) error

	// Search returns the k best-scoring segments for the query vector,
	// score descending.
	Search(ctx context.Context, query []float32, k int) ([]Result, error)

	// Size reports the number of indexed segments.
	Size(ctx context.Context) (int, error)

	// Creators lists every creator with indexed segments, sorted.
	Creators(ctx context.Context) ([]string, error)

	// HasVideo reports whether the video already has indexed segments.
	HasVideo(ctx context.Context, creator, videoID string) (bool, error)

	// Rebuild replaces the entire index with the segments produced by feed.
	// The new index is staged separately and swapped in only when the feed
	// completes; a failed rebuild leaves the live index untouched.
	Rebuild(ctx context.Context, feed RebuildFeed) error

	// Close releases backend resources.
	Close() error
}

// NormalizeBatch validates an append batch for both backends: every
// segment needs a creator (normalised here), a video id, and an embedding
// of the index dimension. A zero dim is inferred from the first segment.
// Returns the normalised copy and the effective dimension.
func NormalizeBatch(dim int, segments []Segment) ([]Segment, int, error) {
	out := make([]Segment, len(segments))
	for i, seg := range segments {
		seg.Creator = types.NormalizeHandle(seg.Creator)
		if seg.Creator == "" || seg.VideoID == "" {
			return nil, 0, faults.Newf(faults.Validation, "vecindex: append",
				"segment without creator or video id")
		}
		if len(seg.Embedding) == 0 {
			return nil, 0, faults.Newf(faults.Validation, "vecindex: append",
				"segment %s/%s has no embedding", seg.Creator, seg.VideoID)
		}
		if dim == 0 {
			dim = len(seg.Embedding)
		}
		if len(seg.Embedding) != dim {
			return nil, 0, faults.Newf(faults.EmbeddingMismatch, "vecindex: append",
				"segment %s/%s has dimension %d, index dimension %d",
				seg.Creator, seg.VideoID, len(seg.Embedding), dim)
		}
		out[i] = seg
	}
	return out, dim, nil
}
