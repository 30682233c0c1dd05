// Package search implements the semantic read path: transcript chunking and
// indexing, filtered vector search with snippets, and per-sentence transcript
// highlighting.
package search

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/MrWong99/reelsonar/internal/observe"
	"github.com/MrWong99/reelsonar/internal/topics"
	"github.com/MrWong99/reelsonar/internal/transcript"
	"github.com/MrWong99/reelsonar/internal/vecindex"
	"github.com/MrWong99/reelsonar/internal/vecmath"
	"github.com/MrWong99/reelsonar/pkg/faults"
	"github.com/MrWong99/reelsonar/pkg/provider/embeddings"
	"github.com/MrWong99/reelsonar/pkg/types"
)

// Sort orders for Search results.
const (
	// SortRelevance orders by similarity score, best first. The default.
	SortRelevance = "relevance"
	// SortRecency orders by index insertion time, newest first.
	SortRecency = "recency"
	// SortTimestamp orders by position within the video, earliest first.
	SortTimestamp = "timestamp"
)

// Search tuning defaults, overridable per Engine.
const (
	defaultMinScore           = 0.15
	defaultHighlightThreshold = 0.30

	// candidateFloor is the minimum number of raw index hits fetched per
	// search so that post-filters still leave enough survivors.
	candidateFloor = 200

	// chunkMaxSentences and chunkTargetChars bound one indexed segment:
	// up to three consecutive sentences, closed early once the text is
	// long enough to embed well on its own.
	chunkMaxSentences = 3
	chunkTargetChars  = 200

	// snippetMaxSentences bounds the context synthesised around a hit.
	snippetMaxSentences = 3
)

// Filters narrows Search results after the vector stage.
type Filters struct {
	// Creators restricts results to these handles. Empty means all.
	Creators []string `json:"creators,omitempty"`

	// ExcludeCreators drops results from these handles.
	ExcludeCreators []string `json:"exclude_creators,omitempty"`

	// Category keeps only creators classified into this category.
	Category string `json:"category,omitempty"`

	// RequiredTags keeps only videos whose topic set contains at least one
	// of these tags (raw or canonical, case-insensitive).
	RequiredTags []string `json:"required_tags,omitempty"`

	// DateFrom / DateTo bound the video upload date, inclusive, formatted
	// 2006-01-02. Results without a known upload date are dropped when a
	// bound is set.
	DateFrom string `json:"date_from,omitempty"`
	DateTo   string `json:"date_to,omitempty"`
}

// Result is one search hit, ready for the HTTP surface.
type Result struct {
	Creator    string    `json:"creator"`
	VideoID    string    `json:"video_id"`
	Text       string    `json:"text"`
	Snippet    string    `json:"snippet"`
	StartSec   float64   `json:"start_sec"`
	EndSec     float64   `json:"end_sec"`
	Timestamp  string    `json:"timestamp"`
	Score      float64   `json:"score"`
	UploadDate string    `json:"upload_date,omitempty"`
	IndexedAt  time.Time `json:"indexed_at"`
}

// Highlights is the outcome of transcript highlighting: the full ordered
// sentence list and the indices that matched.
type Highlights struct {
	Segments           []types.Sentence `json:"segments"`
	HighlightedIndices []int            `json:"highlighted_indices"`
}

// Engine ties the vector index, the embeddings provider, and the artifact
// stores into the search read path. Safe for concurrent use.
type Engine struct {
	index       vecindex.Index
	embed       embeddings.Provider
	transcripts *transcript.Store
	topics      *topics.Store
	cache       Cache

	minScore           float64
	highlightThreshold float64
	metrics            *observe.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithMinScore overrides the score floor applied to search hits.
func WithMinScore(s float64) Option {
	return func(e *Engine) { e.minScore = s }
}

// WithHighlightThreshold overrides the cosine threshold for highlights.
func WithHighlightThreshold(t float64) Option {
	return func(e *Engine) { e.highlightThreshold = t }
}

// WithCache sets the sentence-embedding cache used by HighlightTranscript.
func WithCache(c Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates a search engine over the given index and stores.
func NewEngine(idx vecindex.Index, embed embeddings.Provider, transcripts *transcript.Store, topicStore *topics.Store, opts ...Option) *Engine {
	e := &Engine{
		index:              idx,
		embed:              embed,
		transcripts:        transcripts,
		topics:             topicStore,
		minScore:           defaultMinScore,
		highlightThreshold: defaultHighlightThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = NewMemoryCache(0)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// IndexTranscript chunks the transcript into one-to-three-sentence segments,
// embeds them, and appends them to the vector index. Returns the number of
// segments in the batch. Videos already present in the index are skipped by
// the append itself, so re-indexing is idempotent.
func (e *Engine) IndexTranscript(ctx context.Context, creator, videoID string, a *transcript.Artifact, meta types.VideoMeta) (int, error) {
	segments, err := e.buildSegments(ctx, creator, videoID, a, meta)
	if err != nil {
		return 0, err
	}
	if len(segments) == 0 {
		return 0, nil
	}
	if err := e.index.Append(ctx, segments); err != nil {
		return 0, err
	}
	e.metrics.SegmentsIndexed.Add(ctx, int64(len(segments)))
	return len(segments), nil
}

// buildSegments chunks and embeds one transcript.
func (e *Engine) buildSegments(ctx context.Context, creator, videoID string, a *transcript.Artifact, meta types.VideoMeta) ([]vecindex.Segment, error) {
	creator = types.NormalizeHandle(creator)
	chunks := chunkSentences(a.Sentences)
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.text
	}
	vecs, err := e.embed.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, faults.Wrap(faults.Network, "search: embed transcript segments", err)
	}
	if len(vecs) != len(chunks) {
		return nil, faults.Newf(faults.EmbeddingMismatch, "search: index transcript", "got %d vectors for %d segments", len(vecs), len(chunks))
	}

	uploadDate := ""
	if !meta.UploadDate.IsZero() {
		uploadDate = meta.UploadDate.UTC().Format("2006-01-02")
	}
	now := time.Now().UTC()
	segments := make([]vecindex.Segment, len(chunks))
	for i, c := range chunks {
		segments[i] = vecindex.Segment{
			Creator:    creator,
			VideoID:    videoID,
			StartSec:   c.startSec,
			EndSec:     c.endSec,
			Text:       c.text,
			UploadDate: uploadDate,
			IndexedAt:  now,
			Embedding:  vecs[i],
		}
	}
	return segments, nil
}

// TranscriptSource enumerates the transcript corpus for [Engine.Rebuild].
// Implementations call emit once per artifact.
type TranscriptSource func(ctx context.Context, emit func(creator, videoID string, a *transcript.Artifact, meta types.VideoMeta) error) error

// Rebuild replaces the entire vector index from the transcript corpus,
// re-chunking and re-embedding every artifact src yields. Searches keep
// answering from the old index until the replacement commits.
func (e *Engine) Rebuild(ctx context.Context, src TranscriptSource) error {
	return e.index.Rebuild(ctx, func(ctx context.Context, emitSegments func([]vecindex.Segment) error) error {
		return src(ctx, func(creator, videoID string, a *transcript.Artifact, meta types.VideoMeta) error {
			segments, err := e.buildSegments(ctx, creator, videoID, a, meta)
			if err != nil {
				return err
			}
			if len(segments) == 0 {
				return nil
			}
			return emitSegments(segments)
		})
	})
}

// Search embeds the query, fetches candidates from the vector index, applies
// the filters, sorts, and synthesises snippets for the top results.
func (e *Engine) Search(ctx context.Context, query string, f Filters, topK int, sortOrder string) ([]Result, error) {
	start := time.Now()
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, faults.New(faults.Validation, "search: empty query")
	}
	if topK <= 0 {
		topK = 10
	}
	switch sortOrder {
	case "", SortRelevance, SortRecency, SortTimestamp:
	default:
		return nil, faults.Newf(faults.Validation, "search: sort", "unknown sort %q", sortOrder)
	}

	qv, err := e.embed.Embed(ctx, query)
	if err != nil {
		return nil, faults.Wrap(faults.Network, "search: embed query", err)
	}

	k := topK
	if k < candidateFloor {
		k = candidateFloor
	}
	candidates, err := e.index.Search(ctx, qv, k)
	if err != nil {
		return nil, err
	}

	state := newFilterState(e.topics)
	kept := candidates[:0]
	for _, c := range candidates {
		if c.Score < e.minScore {
			continue
		}
		if !state.keep(ctx, c.Segment, f) {
			continue
		}
		kept = append(kept, c)
	}

	switch sortOrder {
	case SortRecency:
		sort.SliceStable(kept, func(i, j int) bool {
			return kept[i].Segment.IndexedAt.After(kept[j].Segment.IndexedAt)
		})
	case SortTimestamp:
		sort.SliceStable(kept, func(i, j int) bool {
			a, b := kept[i].Segment, kept[j].Segment
			if a.Creator != b.Creator {
				return a.Creator < b.Creator
			}
			if a.VideoID != b.VideoID {
				return a.VideoID < b.VideoID
			}
			return a.StartSec < b.StartSec
		})
	default:
		// Index results arrive score-descending already.
	}

	if len(kept) > topK {
		kept = kept[:topK]
	}

	results := make([]Result, 0, len(kept))
	artifacts := make(map[string]*transcript.Artifact, len(kept))
	for _, c := range kept {
		s := c.Segment
		results = append(results, Result{
			Creator:    s.Creator,
			VideoID:    s.VideoID,
			Text:       s.Text,
			Snippet:    e.snippetFor(ctx, artifacts, s),
			StartSec:   s.StartSec,
			EndSec:     s.EndSec,
			Timestamp:  types.FormatTimestamp(s.StartSec),
			Score:      c.Score,
			UploadDate: s.UploadDate,
			IndexedAt:  s.IndexedAt,
		})
	}

	e.metrics.SearchDuration.Record(ctx, time.Since(start).Seconds())
	return results, nil
}

// HighlightTranscript embeds the query and every transcript sentence and
// marks sentences whose cosine similarity clears the highlight threshold.
// Identical inputs always yield identical highlight sets. Sentence vectors
// are cached per video and embedding model.
func (e *Engine) HighlightTranscript(ctx context.Context, creator, videoID, query string) (*Highlights, error) {
	creator = types.NormalizeHandle(creator)
	a, err := e.transcripts.Read(creator, videoID)
	if err != nil {
		return nil, err
	}
	h := &Highlights{Segments: a.Sentences, HighlightedIndices: []int{}}
	query = strings.TrimSpace(query)
	if query == "" || len(a.Sentences) == 0 {
		return h, nil
	}

	qv, err := e.embed.Embed(ctx, query)
	if err != nil {
		return nil, faults.Wrap(faults.Network, "search: embed highlight query", err)
	}
	vecs, err := e.sentenceVectors(ctx, creator, videoID, a.Sentences)
	if err != nil {
		return nil, err
	}
	for i, v := range vecs {
		if vecmath.Cosine(qv, v) >= e.highlightThreshold {
			h.HighlightedIndices = append(h.HighlightedIndices, i)
		}
	}
	return h, nil
}

// HighlightAt marks sentences whose time interval overlaps any of the given
// offsets within ± window seconds. Used for the MM:SS highlight form of the
// transcript endpoint.
func (e *Engine) HighlightAt(_ context.Context, creator, videoID string, offsets []float64, window float64) (*Highlights, error) {
	a, err := e.transcripts.Read(types.NormalizeHandle(creator), videoID)
	if err != nil {
		return nil, err
	}
	h := &Highlights{Segments: a.Sentences, HighlightedIndices: []int{}}
	for i, s := range a.Sentences {
		for _, off := range offsets {
			if s.StartSec <= off+window && s.EndSec >= off-window {
				h.HighlightedIndices = append(h.HighlightedIndices, i)
				break
			}
		}
	}
	return h, nil
}

// sentenceVectors returns the embedding for every sentence, served from the
// cache when possible.
func (e *Engine) sentenceVectors(ctx context.Context, creator, videoID string, sentences []types.Sentence) ([][]float32, error) {
	key := cacheKey(creator, videoID, e.embed.ModelID())
	if vecs, ok := e.cache.Get(ctx, key); ok && len(vecs) == len(sentences) {
		return vecs, nil
	}
	texts := make([]string, len(sentences))
	for i, s := range sentences {
		texts[i] = s.Text
	}
	vecs, err := e.embed.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, faults.Wrap(faults.Network, "search: embed transcript sentences", err)
	}
	e.cache.Put(ctx, key, vecs)
	return vecs, nil
}

// snippetFor assembles a short context window around the hit from the
// transcript's sentences. Falls back to the segment's own text when the
// transcript cannot be read.
func (e *Engine) snippetFor(ctx context.Context, artifacts map[string]*transcript.Artifact, s vecindex.Segment) string {
	k := s.Creator + "/" + s.VideoID
	a, ok := artifacts[k]
	if !ok {
		var err error
		a, err = e.transcripts.Read(s.Creator, s.VideoID)
		if err != nil {
			observe.Logger(ctx).Debug("snippet transcript unavailable",
				"creator", s.Creator, "video_id", s.VideoID, "error", err)
			a = nil
		}
		artifacts[k] = a
	}
	if a == nil || len(a.Sentences) == 0 {
		return s.Text
	}

	// Sentences overlapping the hit interval, then pad with neighbours up
	// to the snippet cap.
	first, last := -1, -1
	for i, sent := range a.Sentences {
		if sent.StartSec < s.EndSec && sent.EndSec > s.StartSec {
			if first == -1 {
				first = i
			}
			last = i
		}
	}
	if first == -1 {
		return s.Text
	}
	for last-first+1 < snippetMaxSentences {
		grew := false
		if first > 0 {
			first--
			grew = true
		}
		if last-first+1 < snippetMaxSentences && last < len(a.Sentences)-1 {
			last++
			grew = true
		}
		if !grew {
			break
		}
	}
	if last-first+1 > snippetMaxSentences {
		last = first + snippetMaxSentences - 1
	}

	parts := make([]string, 0, last-first+1)
	for i := first; i <= last; i++ {
		parts = append(parts, strings.TrimSpace(a.Sentences[i].Text))
	}
	return strings.Join(parts, " ")
}

// chunk is one contiguous run of sentences destined for the index.
type chunk struct {
	text     string
	startSec float64
	endSec   float64
}

// chunkSentences groups consecutive sentences into index segments of at most
// chunkMaxSentences, closing a segment early once it reaches
// chunkTargetChars.
func chunkSentences(sentences []types.Sentence) []chunk {
	var out []chunk
	var cur []types.Sentence
	var chars int

	flush := func() {
		if len(cur) == 0 {
			return
		}
		parts := make([]string, len(cur))
		for i, s := range cur {
			parts[i] = strings.TrimSpace(s.Text)
		}
		out = append(out, chunk{
			text:     strings.Join(parts, " "),
			startSec: cur[0].StartSec,
			endSec:   cur[len(cur)-1].EndSec,
		})
		cur = cur[:0]
		chars = 0
	}

	for _, s := range sentences {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		cur = append(cur, s)
		chars += len(text)
		if len(cur) >= chunkMaxSentences || chars >= chunkTargetChars {
			flush()
		}
	}
	flush()
	return out
}

// filterState memoises per-creator and per-video artifact reads across one
// search call so filters do not hit the disk once per candidate.
type filterState struct {
	topics     *topics.Store
	categories map[string]string              // creator → category ("" = unknown)
	videoTags  map[string]map[string]struct{} // creator/video → lowercase tag set
}

func newFilterState(store *topics.Store) *filterState {
	return &filterState{
		topics:     store,
		categories: make(map[string]string),
		videoTags:  make(map[string]map[string]struct{}),
	}
}

func (fs *filterState) keep(ctx context.Context, s vecindex.Segment, f Filters) bool {
	if len(f.Creators) > 0 && !containsHandle(f.Creators, s.Creator) {
		return false
	}
	if containsHandle(f.ExcludeCreators, s.Creator) {
		return false
	}
	if f.DateFrom != "" && (s.UploadDate == "" || s.UploadDate < f.DateFrom) {
		return false
	}
	if f.DateTo != "" && (s.UploadDate == "" || s.UploadDate > f.DateTo) {
		return false
	}
	if f.Category != "" && !strings.EqualFold(fs.categoryFor(ctx, s.Creator), f.Category) {
		return false
	}
	if len(f.RequiredTags) > 0 {
		tags := fs.tagsFor(ctx, s.Creator, s.VideoID)
		found := false
		for _, want := range f.RequiredTags {
			if _, ok := tags[strings.ToLower(strings.TrimSpace(want))]; ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (fs *filterState) categoryFor(ctx context.Context, creator string) string {
	if cat, ok := fs.categories[creator]; ok {
		return cat
	}
	cat := ""
	if f, err := fs.topics.ReadCategory(creator); err == nil {
		cat = f.Category
	} else if faults.KindOf(err) != faults.NotFound {
		observe.Logger(ctx).Warn("category read failed during search", "creator", creator, "error", err)
	}
	fs.categories[creator] = cat
	return cat
}

func (fs *filterState) tagsFor(ctx context.Context, creator, videoID string) map[string]struct{} {
	k := creator + "/" + videoID
	if tags, ok := fs.videoTags[k]; ok {
		return tags
	}
	tags := make(map[string]struct{})
	if f, err := fs.topics.ReadVideoTopics(creator, videoID); err == nil {
		for _, r := range f.Topics {
			tags[strings.ToLower(r.Tag)] = struct{}{}
			tags[strings.ToLower(r.Canonical)] = struct{}{}
		}
	} else if faults.KindOf(err) != faults.NotFound {
		observe.Logger(ctx).Warn("video topics read failed during search",
			"creator", creator, "video_id", videoID, "error", err)
	}
	fs.videoTags[k] = tags
	return tags
}

func containsHandle(handles []string, creator string) bool {
	for _, h := range handles {
		if types.NormalizeHandle(h) == creator {
			return true
		}
	}
	return false
}
