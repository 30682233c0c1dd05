// Package accountindex persists the per-creator ledger of processed videos.
//
// Each creator owns one index file under the accounts root
// (<root>/<creator>/index.json). The file is the source of truth for
// idempotency: a video listed there has either a transcript artifact on disk
// or a terminal failure record, and is never downloaded again unless a job
// explicitly re-drives it. All writes replace the whole file atomically, so
// readers never observe a partial index.
//
// The Store is safe for concurrent use. Writes to the same creator are
// serialised internally; the job manager additionally runs at most one
// ingestion per creator at a time.
package accountindex

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/reelsonar/pkg/faults"
	"github.com/MrWong99/reelsonar/pkg/types"
)

// indexFileName is the ledger file inside each creator directory.
const indexFileName = "index.json"

// VideoRecord is the per-video entry of an index file. At most one record
// exists per video ID; re-processing replaces the record whole.
type VideoRecord struct {
	VideoID     string    `json:"video_id"`
	Title       string    `json:"title"`
	DurationSec float64   `json:"duration_sec"`
	URL         string    `json:"url"`
	ProcessedAt time.Time `json:"processed_at"`

	// Success is true when a transcript artifact exists for the video,
	// false for a terminal failure (ErrorKind then names the fault).
	Success bool `json:"success"`

	TranscriptPath        string `json:"transcript_path,omitempty"`
	TranscriptLengthChars int    `json:"transcript_length_chars,omitempty"`

	// Confidence is the transcript's mean confidence, used by jobs that
	// re-drive low-confidence videos. Zero when unknown.
	Confidence float64 `json:"confidence,omitempty"`

	// ErrorKind is the fault kind that made the video terminal. Empty on
	// success.
	ErrorKind string `json:"error_kind,omitempty"`
}

// IndexStats is the aggregate block of an index file. The per-record
// counters are recomputed from the record map on every commit; the run-level
// fields are set by [Store.RecordRun] at the end of an ingestion run.
type IndexStats struct {
	TotalFound int       `json:"total_found"`
	Processed  int       `json:"processed"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	LastRunAt  time.Time `json:"last_run_at,omitzero"`
}

// IndexFile is the on-disk ledger for one creator.
type IndexFile struct {
	Creator         string                 `json:"creator"`
	CreatedAt       time.Time              `json:"created_at"`
	LastUpdated     time.Time              `json:"last_updated"`
	ProcessedVideos map[string]VideoRecord `json:"processed_videos"`
	Stats           IndexStats             `json:"stats"`
}

// Totals aggregates across all creators for the verification surface.
type Totals struct {
	// Creators is the number of creator directories with an index file.
	Creators int

	// Transcripts is the number of successfully processed videos.
	Transcripts int
}

// Store reads and writes account index files under a single root directory.
type Store struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore returns a Store rooted at dir. The directory is created on first
// write, not here.
func NewStore(dir string) *Store {
	return &Store{
		root:  dir,
		locks: make(map[string]*sync.Mutex),
	}
}

// Dir returns the directory holding a creator's index and artifacts.
func (s *Store) Dir(creator string) string {
	return filepath.Join(s.root, types.NormalizeHandle(creator))
}

// Load returns the index file for creator, creating an empty one on disk if
// none exists yet.
func (s *Store) Load(creator string) (*IndexFile, error) {
	creator = types.NormalizeHandle(creator)
	if err := checkCreator(creator); err != nil {
		return nil, err
	}

	lock := s.creatorLock(creator)
	lock.Lock()
	defer lock.Unlock()

	return s.loadLocked(creator)
}

// ProcessedIDs returns the set of video IDs recorded for creator. By default
// only successful records count; includeFailed widens the set to terminal
// failures as well.
func (s *Store) ProcessedIDs(creator string, includeFailed bool) (map[string]struct{}, error) {
	idx, err := s.Load(creator)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(idx.ProcessedVideos))
	for id, rec := range idx.ProcessedVideos {
		if rec.Success || includeFailed {
			ids[id] = struct{}{}
		}
	}
	return ids, nil
}

// FilterNew returns the candidates not yet present in creator's index,
// preserving input order. Any recorded video — successful or terminally
// failed — is dropped; re-driving recorded videos is a job-level decision.
func (s *Store) FilterNew(creator string, candidates []types.VideoMeta) ([]types.VideoMeta, error) {
	idx, err := s.Load(creator)
	if err != nil {
		return nil, err
	}
	fresh := make([]types.VideoMeta, 0, len(candidates))
	for _, v := range candidates {
		if _, seen := idx.ProcessedVideos[v.ID]; seen {
			continue
		}
		fresh = append(fresh, v)
	}
	return fresh, nil
}

// Commit inserts or replaces rec in creator's index and writes the whole
// file atomically. The processed/failed counters are recomputed from the
// record map so they can never drift from it. A failed commit leaves the
// previous file intact.
func (s *Store) Commit(creator string, rec VideoRecord) error {
	creator = types.NormalizeHandle(creator)
	if err := checkCreator(creator); err != nil {
		return err
	}
	if rec.VideoID == "" {
		return faults.Newf(faults.Validation, "accountindex: commit", "record has no video_id")
	}
	if !rec.Success && rec.ErrorKind == "" {
		return faults.Newf(faults.Validation, "accountindex: commit", "failure record has no error_kind")
	}

	lock := s.creatorLock(creator)
	lock.Lock()
	defer lock.Unlock()

	idx, err := s.loadLocked(creator)
	if err != nil {
		return err
	}

	idx.ProcessedVideos[rec.VideoID] = rec
	idx.Stats.Processed, idx.Stats.Failed = countRecords(idx.ProcessedVideos)
	idx.LastUpdated = time.Now().UTC()

	return s.writeLocked(creator, idx)
}

// RecordRun stores the run-level stats after an ingestion run over creator:
// how many videos the platform listing reported and how many the run
// skipped.
func (s *Store) RecordRun(creator string, totalFound, skipped int) error {
	creator = types.NormalizeHandle(creator)
	if err := checkCreator(creator); err != nil {
		return err
	}

	lock := s.creatorLock(creator)
	lock.Lock()
	defer lock.Unlock()

	idx, err := s.loadLocked(creator)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	idx.Stats.TotalFound = totalFound
	idx.Stats.Skipped = skipped
	idx.Stats.LastRunAt = now
	idx.LastUpdated = now

	return s.writeLocked(creator, idx)
}

// Creators lists every creator with an index file under the root, sorted.
func (s *Store) Creators() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, faults.Wrap(faults.IndexWrite, "accountindex: list creators", err)
	}

	var creators []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, entry.Name(), indexFileName)); err != nil {
			continue
		}
		creators = append(creators, entry.Name())
	}
	sort.Strings(creators)
	return creators, nil
}

// Totals aggregates record counts across every creator for the verification
// surface.
func (s *Store) Totals() (Totals, error) {
	creators, err := s.Creators()
	if err != nil {
		return Totals{}, err
	}

	totals := Totals{Creators: len(creators)}
	for _, creator := range creators {
		idx, err := s.Load(creator)
		if err != nil {
			return Totals{}, err
		}
		for _, rec := range idx.ProcessedVideos {
			if rec.Success {
				totals.Transcripts++
			}
		}
	}
	return totals, nil
}

// loadLocked reads (or initialises) creator's index. Callers hold the
// creator lock.
func (s *Store) loadLocked(creator string) (*IndexFile, error) {
	path := filepath.Join(s.root, creator, indexFileName)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		idx := &IndexFile{
			Creator:         creator,
			CreatedAt:       time.Now().UTC(),
			LastUpdated:     time.Now().UTC(),
			ProcessedVideos: make(map[string]VideoRecord),
		}
		if err := s.writeLocked(creator, idx); err != nil {
			return nil, err
		}
		return idx, nil
	}
	if err != nil {
		return nil, faults.Wrap(faults.IndexWrite, "accountindex: load "+creator, err)
	}

	idx := &IndexFile{}
	if err := json.Unmarshal(data, idx); err != nil {
		return nil, faults.Wrap(faults.IndexWrite, "accountindex: parse "+creator, err)
	}
	if idx.ProcessedVideos == nil {
		idx.ProcessedVideos = make(map[string]VideoRecord)
	}
	return idx, nil
}

// writeLocked replaces creator's index file atomically: marshal to a temp
// file in the same directory, fsync, then rename over the old file. Callers
// hold the creator lock.
func (s *Store) writeLocked(creator string, idx *IndexFile) error {
	dir := filepath.Join(s.root, creator)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return faults.Wrap(faults.IndexWrite, "accountindex: mkdir "+creator, err)
	}

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return faults.Wrap(faults.IndexWrite, "accountindex: marshal "+creator, err)
	}

	tmp, err := os.CreateTemp(dir, indexFileName+".tmp-*")
	if err != nil {
		return faults.Wrap(faults.IndexWrite, "accountindex: stage "+creator, err)
	}
	tmpName := tmp.Name()

	if err := writeAndSync(tmp, data); err != nil {
		os.Remove(tmpName)
		return faults.Wrap(faults.IndexWrite, "accountindex: stage "+creator, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return faults.Wrap(faults.IndexWrite, "accountindex: stage "+creator, err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, indexFileName)); err != nil {
		os.Remove(tmpName)
		return faults.Wrap(faults.IndexWrite, "accountindex: commit "+creator, err)
	}
	return nil
}

// writeAndSync writes data to f, fsyncs, and closes it. The first error wins.
func writeAndSync(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// creatorLock returns the write lock for creator, creating it on first use.
func (s *Store) creatorLock(creator string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[creator]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[creator] = lock
	}
	return lock
}

// countRecords tallies successful and failed records.
func countRecords(records map[string]VideoRecord) (processed, failed int) {
	for _, rec := range records {
		if rec.Success {
			processed++
		} else {
			failed++
		}
	}
	return processed, failed
}

// checkCreator rejects handles that would escape the accounts root or name
// no directory at all.
func checkCreator(creator string) error {
	if creator == "" {
		return faults.Newf(faults.Validation, "accountindex", "creator handle is empty")
	}
	if strings.ContainsAny(creator, "/\\") || creator == "." || creator == ".." {
		return faults.Newf(faults.Validation, "accountindex", "creator handle %q is not a valid directory name", creator)
	}
	return nil
}
