package vecindex

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/reelsonar/internal/vecmath"
	"github.com/MrWong99/reelsonar/pkg/faults"
	"github.com/MrWong99/reelsonar/pkg/types"
)

const (
	searchDir    = "search"
	vectorsFile  = "index.f32bin"
	metadataFile = "embeddings.jsonl"
	manifestFile = "index.manifest.json"

	stagingSuffix = ".staging"
)

// manifest is the index's commit marker. Data file writes become visible
// only once a manifest recording them has been renamed into place, so a
// crash mid-append leaves a tail beyond the recorded byte counts that the
// next writer truncates away.
type manifest struct {
	Rows      int   `json:"rows"`
	Dim       int   `json:"dim"`
	VecBytes  int64 `json:"vec_bytes"`
	MetaBytes int64 `json:"meta_bytes"`
}

// snapshot is an immutable view of the index. Appends build a successor
// sharing the committed prefix; readers keep whichever snapshot they
// grabbed and never observe a torn state.
type snapshot struct {
	dim     int
	vecs    []float32 // row-major, rows()*dim
	metas   []Segment
	byVideo map[string]map[string]struct{}
}

func newSnapshot(dim int) *snapshot {
	return &snapshot{dim: dim, byVideo: make(map[string]map[string]struct{})}
}

func (sn *snapshot) rows() int { return len(sn.metas) }

func (sn *snapshot) hasVideo(creator, videoID string) bool {
	_, ok := sn.byVideo[creator][videoID]
	return ok
}

func (sn *snapshot) addVideo(creator, videoID string) {
	vids := sn.byVideo[creator]
	if vids == nil {
		vids = make(map[string]struct{})
		sn.byVideo[creator] = vids
	}
	vids[videoID] = struct{}{}
}

func (sn *snapshot) cloneVideos() map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{}, len(sn.byVideo))
	for c, vids := range sn.byVideo {
		cp := make(map[string]struct{}, len(vids))
		for v := range vids {
			cp[v] = struct{}{}
		}
		out[c] = cp
	}
	return out
}

// Flat is the default file-backed index: packed little-endian float32 rows
// in index.f32bin, one JSON metadata row per vector in embeddings.jsonl,
// and a manifest as the atomic commit marker. The whole index lives in
// memory; searches scan a snapshot without holding any lock.
type Flat struct {
	dir    string
	cfgDim int

	writeMu sync.Mutex // serialises Append and Rebuild

	mu   sync.RWMutex // guards the snapshot swap only
	snap *snapshot
	man  manifest // writer-owned, writeMu held
}

var _ Index = (*Flat)(nil)

// NewFlat opens (or creates) the flat index under dataDir/search.
// embeddingDimensions may be zero, in which case the dimension is fixed by
// the on-disk manifest or, for a fresh index, by the first appended vector.
func NewFlat(dataDir string, embeddingDimensions int) (*Flat, error) {
	dir := filepath.Join(dataDir, searchDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, faults.Wrap(faults.Internal, "vecindex: create search dir", err)
	}
	snap, man, err := loadFlat(dir, embeddingDimensions)
	if err != nil {
		return nil, err
	}
	slog.Debug("flat vector index opened",
		"dir", dir, "rows", snap.rows(), "dim", snap.dim)
	return &Flat{dir: dir, cfgDim: embeddingDimensions, snap: snap, man: man}, nil
}

func (f *Flat) current() *snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.snap
}

// Append implements [Index].
func (f *Flat) Append(ctx context.Context, segments []Segment) error {
	if len(segments) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return faults.Wrap(faults.Internal, "vecindex: append", err)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	snap := f.current()

	keep, skipped, dim, err := admitSegments(snap.dim, segments, snap.hasVideo)
	if err != nil {
		return err
	}
	if len(keep) == 0 {
		slog.Debug("append skipped, videos already indexed", "videos", skipped)
		return nil
	}

	base := snap.rows()
	now := time.Now().UTC()
	floats := make([]float32, 0, len(keep)*dim)
	rows := make([]Segment, len(keep))
	for i, seg := range keep {
		seg.SegmentID = base + i
		if seg.IndexedAt.IsZero() {
			seg.IndexedAt = now
		}
		floats = append(floats, seg.Embedding...)
		seg.Embedding = nil // vectors live in the dense file only
		rows[i] = seg
	}

	vecBytes := floatsToBytes(floats)
	metaBytes, err := encodeMetaRows(rows)
	if err != nil {
		return faults.Wrap(faults.Internal, "vecindex: encode metadata", err)
	}

	if err := appendAt(filepath.Join(f.dir, vectorsFile), f.man.VecBytes, vecBytes); err != nil {
		return faults.Wrap(faults.IndexWrite, "vecindex: append vectors", err)
	}
	if err := appendAt(filepath.Join(f.dir, metadataFile), f.man.MetaBytes, metaBytes); err != nil {
		return faults.Wrap(faults.IndexWrite, "vecindex: append metadata", err)
	}
	man := manifest{
		Rows:      base + len(rows),
		Dim:       dim,
		VecBytes:  f.man.VecBytes + int64(len(vecBytes)),
		MetaBytes: f.man.MetaBytes + int64(len(metaBytes)),
	}
	if err := writeManifest(f.dir, man); err != nil {
		return faults.Wrap(faults.IndexWrite, "vecindex: commit manifest", err)
	}
	f.man = man

	next := &snapshot{
		dim:     dim,
		vecs:    append(snap.vecs, floats...),
		metas:   append(snap.metas, rows...),
		byVideo: snap.cloneVideos(),
	}
	for _, r := range rows {
		next.addVideo(r.Creator, r.VideoID)
	}
	f.mu.Lock()
	f.snap = next
	f.mu.Unlock()

	slog.Debug("segments appended",
		"count", len(rows), "skipped_videos", skipped, "rows", next.rows())
	return nil
}

// admitSegments validates the batch via [NormalizeBatch] and drops
// segments of already-indexed videos. Dimension checks cover the whole
// batch, skipped videos included, so a misconfigured embedder fails
// loudly. Returns the admitted segments in input order, the number of
// skipped videos, and the effective index dimension.
func admitSegments(dim int, segments []Segment, indexed func(creator, videoID string) bool) ([]Segment, int, int, error) {
	norm, dim, err := NormalizeBatch(dim, segments)
	if err != nil {
		return nil, 0, 0, err
	}
	keep := make([]Segment, 0, len(norm))
	skippedVideos := make(map[string]struct{})
	for _, seg := range norm {
		if indexed(seg.Creator, seg.VideoID) {
			skippedVideos[seg.Creator+"/"+seg.VideoID] = struct{}{}
			continue
		}
		keep = append(keep, seg)
	}
	return keep, len(skippedVideos), dim, nil
}

// Search implements [Index]. The scan runs over a lock-free snapshot;
// ranking is inner product, ties broken by segment id.
func (f *Flat) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, faults.Wrap(faults.Internal, "vecindex: search", err)
	}
	snap := f.current()
	out := []Result{}
	if k <= 0 || snap.rows() == 0 {
		return out, nil
	}
	if len(query) != snap.dim {
		return nil, faults.Newf(faults.EmbeddingMismatch, "vecindex: search",
			"query dimension %d, index dimension %d", len(query), snap.dim)
	}

	type hit struct {
		idx   int
		score float64
	}
	hits := make([]hit, snap.rows())
	for i := range hits {
		row := snap.vecs[i*snap.dim : (i+1)*snap.dim]
		hits[i] = hit{idx: i, score: vecmath.Dot(query, row)}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].idx < hits[j].idx
	})
	if k > len(hits) {
		k = len(hits)
	}
	for _, h := range hits[:k] {
		out = append(out, Result{Segment: snap.metas[h.idx], Score: h.score})
	}
	return out, nil
}

// Size implements [Index].
func (f *Flat) Size(context.Context) (int, error) {
	return f.current().rows(), nil
}

// Creators implements [Index].
func (f *Flat) Creators(context.Context) ([]string, error) {
	snap := f.current()
	out := make([]string, 0, len(snap.byVideo))
	for c := range snap.byVideo {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

// HasVideo implements [Index].
func (f *Flat) HasVideo(_ context.Context, creator, videoID string) (bool, error) {
	return f.current().hasVideo(types.NormalizeHandle(creator), videoID), nil
}

// Rebuild implements [Index]. The feed's segments are written to staging
// files; only when the feed completes are they renamed over the live index
// and the manifest committed, so a failed rebuild changes nothing.
func (f *Flat) Rebuild(ctx context.Context, feed RebuildFeed) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	st, err := newRebuildState(f.dir, f.cfgDim)
	if err != nil {
		return faults.Wrap(faults.IndexWrite, "vecindex: stage rebuild", err)
	}
	defer st.discard()

	if err := feed(ctx, st.emit); err != nil {
		return err
	}
	man, snap, err := st.commit()
	if err != nil {
		return faults.Wrap(faults.IndexWrite, "vecindex: commit rebuild", err)
	}
	f.man = man
	f.mu.Lock()
	f.snap = snap
	f.mu.Unlock()

	slog.Info("vector index rebuilt", "rows", snap.rows(), "dim", snap.dim)
	return nil
}

// Close implements [Index]. The flat index holds no open handles between
// operations.
func (f *Flat) Close() error { return nil }

// rebuildState accumulates the staged replacement index.
type rebuildState struct {
	dir       string
	dim       int
	vf, mf    *os.File
	vw, mw    *bufio.Writer
	vecBytes  int64
	metaBytes int64
	snap      *snapshot
	committed bool
}

func newRebuildState(dir string, dim int) (*rebuildState, error) {
	vf, err := os.Create(filepath.Join(dir, vectorsFile+stagingSuffix))
	if err != nil {
		return nil, err
	}
	mf, err := os.Create(filepath.Join(dir, metadataFile+stagingSuffix))
	if err != nil {
		vf.Close()
		return nil, err
	}
	return &rebuildState{
		dir:  dir,
		dim:  dim,
		vf:   vf,
		mf:   mf,
		vw:   bufio.NewWriter(vf),
		mw:   bufio.NewWriter(mf),
		snap: newSnapshot(dim),
	}, nil
}

// emit is handed to the rebuild feed. It applies the same admission rules
// as Append, with de-duplication running against the rows staged so far.
func (st *rebuildState) emit(segments []Segment) error {
	keep, _, dim, err := admitSegments(st.dim, segments, st.snap.hasVideo)
	if err != nil {
		return err
	}
	st.dim = dim
	st.snap.dim = dim

	base := st.snap.rows()
	now := time.Now().UTC()
	for i, seg := range keep {
		seg.SegmentID = base + i
		if seg.IndexedAt.IsZero() {
			seg.IndexedAt = now
		}
		vec := seg.Embedding
		seg.Embedding = nil

		if _, err := st.vw.Write(floatsToBytes(vec)); err != nil {
			return faults.Wrap(faults.IndexWrite, "vecindex: stage vectors", err)
		}
		line, err := json.Marshal(seg)
		if err != nil {
			return faults.Wrap(faults.Internal, "vecindex: encode metadata", err)
		}
		line = append(line, '\n')
		if _, err := st.mw.Write(line); err != nil {
			return faults.Wrap(faults.IndexWrite, "vecindex: stage metadata", err)
		}
		st.vecBytes += int64(4 * len(vec))
		st.metaBytes += int64(len(line))

		st.snap.vecs = append(st.snap.vecs, vec...)
		st.snap.metas = append(st.snap.metas, seg)
		st.snap.addVideo(seg.Creator, seg.VideoID)
	}
	return nil
}

func (st *rebuildState) commit() (manifest, *snapshot, error) {
	var man manifest
	if err := st.flushClose(); err != nil {
		return man, nil, err
	}
	if err := os.Rename(filepath.Join(st.dir, vectorsFile+stagingSuffix), filepath.Join(st.dir, vectorsFile)); err != nil {
		return man, nil, err
	}
	if err := os.Rename(filepath.Join(st.dir, metadataFile+stagingSuffix), filepath.Join(st.dir, metadataFile)); err != nil {
		return man, nil, err
	}
	man = manifest{
		Rows:      st.snap.rows(),
		Dim:       st.dim,
		VecBytes:  st.vecBytes,
		MetaBytes: st.metaBytes,
	}
	if err := writeManifest(st.dir, man); err != nil {
		return man, nil, err
	}
	st.committed = true
	return man, st.snap, nil
}

func (st *rebuildState) flushClose() error {
	if err := st.vw.Flush(); err != nil {
		return err
	}
	if err := st.mw.Flush(); err != nil {
		return err
	}
	if err := st.vf.Sync(); err != nil {
		return err
	}
	if err := st.mf.Sync(); err != nil {
		return err
	}
	if err := st.vf.Close(); err != nil {
		return err
	}
	return st.mf.Close()
}

// discard removes the staging files after an aborted rebuild. No-op once
// committed.
func (st *rebuildState) discard() {
	if st.committed {
		return
	}
	st.vf.Close()
	st.mf.Close()
	os.Remove(filepath.Join(st.dir, vectorsFile+stagingSuffix))
	os.Remove(filepath.Join(st.dir, metadataFile+stagingSuffix))
}

// loadFlat reads the committed index state. The manifest's byte counts are
// authoritative: anything beyond them is an uncommitted tail and is
// ignored here (and truncated by the next append).
func loadFlat(dir string, cfgDim int) (*snapshot, manifest, error) {
	var man manifest
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		for _, name := range []string{vectorsFile, metadataFile} {
			if _, serr := os.Stat(filepath.Join(dir, name)); serr == nil {
				return nil, man, faults.Newf(faults.Internal, "vecindex: open",
					"%s exists without a manifest; rebuild the index or remove the file", name)
			}
		}
		man.Dim = cfgDim
		return newSnapshot(cfgDim), man, nil
	case err != nil:
		return nil, man, faults.Wrap(faults.Internal, "vecindex: open manifest", err)
	}
	if err := json.Unmarshal(data, &man); err != nil {
		return nil, man, faults.Wrap(faults.Internal, "vecindex: parse manifest", err)
	}
	if cfgDim != 0 && man.Dim != 0 && cfgDim != man.Dim {
		return nil, man, faults.Newf(faults.EmbeddingMismatch, "vecindex: open",
			"configured dimension %d, on-disk index dimension %d", cfgDim, man.Dim)
	}
	if man.Dim == 0 {
		man.Dim = cfgDim
	}

	snap := newSnapshot(man.Dim)
	if man.Rows == 0 {
		return snap, man, nil
	}

	vecRaw, err := readPrefix(filepath.Join(dir, vectorsFile), man.VecBytes)
	if err != nil {
		return nil, man, faults.Wrap(faults.Internal, "vecindex: read vectors", err)
	}
	snap.vecs = bytesToFloats(vecRaw)
	if len(snap.vecs) != man.Rows*man.Dim {
		return nil, man, faults.Newf(faults.Internal, "vecindex: open",
			"vector file holds %d values, manifest records %d rows of dimension %d",
			len(snap.vecs), man.Rows, man.Dim)
	}

	metaRaw, err := readPrefix(filepath.Join(dir, metadataFile), man.MetaBytes)
	if err != nil {
		return nil, man, faults.Wrap(faults.Internal, "vecindex: read metadata", err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(metaRaw))
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)
	snap.metas = make([]Segment, 0, man.Rows)
	for scanner.Scan() {
		var seg Segment
		if err := json.Unmarshal(scanner.Bytes(), &seg); err != nil {
			return nil, man, faults.Wrap(faults.Internal, "vecindex: parse metadata", err)
		}
		seg.SegmentID = len(snap.metas) // positional, regardless of the stored value
		snap.metas = append(snap.metas, seg)
		snap.addVideo(seg.Creator, seg.VideoID)
	}
	if err := scanner.Err(); err != nil {
		return nil, man, faults.Wrap(faults.Internal, "vecindex: read metadata", err)
	}
	if len(snap.metas) != man.Rows {
		return nil, man, faults.Newf(faults.Internal, "vecindex: open",
			"metadata log holds %d rows, manifest records %d", len(snap.metas), man.Rows)
	}
	return snap, man, nil
}

func readPrefix(path string, n int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, n)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// appendAt writes data at the committed end of path. A longer file means a
// previous append crashed before its manifest; the tail is truncated away
// first. A shorter file means lost committed data, which is not repairable
// here.
func appendAt(path string, offset int64, data []byte) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err == nil {
		switch {
		case st.Size() > offset:
			err = f.Truncate(offset)
		case st.Size() < offset:
			err = fmt.Errorf("%s is %d bytes, manifest records %d",
				filepath.Base(path), st.Size(), offset)
		}
	}
	if err == nil {
		_, err = f.WriteAt(data, offset)
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func writeManifest(dir string, man manifest) error {
	data, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, manifestFile+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, manifestFile))
}

func encodeMetaRows(rows []Segment) ([]byte, error) {
	var buf bytes.Buffer
	for _, seg := range rows {
		line, err := json.Marshal(seg)
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func floatsToBytes(vals []float32) []byte {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func bytesToFloats(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}
