package topics

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/reelsonar/pkg/faults"
	"github.com/MrWong99/reelsonar/pkg/types"
)

// topicsDir is the per-creator subdirectory holding all topic artifacts.
const topicsDir = "topics"

// Artifact file names under the topics directory.
const (
	v2Suffix      = "_tags_v2.json"
	v1Suffix      = "_tags.json"
	accountTags   = "account_tags.json"
	accountCat    = "account_category.json"
	umbrellasFile = "topic_umbrellas.json"
)

// V2File is the per-video topics artifact: the selected TopicRecords plus
// extraction provenance.
type V2File struct {
	Creator     string              `json:"creator"`
	VideoID     string              `json:"video_id"`
	ExtractedAt time.Time           `json:"extracted_at"`
	EmbedModel  string              `json:"embedding_model,omitempty"`
	NLPEngine   string              `json:"nlp_engine,omitempty"`
	Topics      []types.TopicRecord `json:"topics"`
}

// V1File is the legacy per-video tag artifact: frequency-ranked candidate
// phrases before MMR selection. Still written for older consumers.
type V1File struct {
	Creator     string      `json:"creator"`
	VideoID     string      `json:"video_id"`
	ExtractedAt time.Time   `json:"extracted_at"`
	Tags        []LegacyTag `json:"tags"`
}

// AccountTagsFile is the account-level tag aggregation artifact.
type AccountTagsFile struct {
	Creator     string                      `json:"creator"`
	GeneratedAt time.Time                   `json:"generated_at"`
	Tags        []types.AccountTagAggregate `json:"tags"`
}

// CategoryFile is the account category artifact.
type CategoryFile struct {
	Creator string `json:"creator"`
	types.CategoryAssignment
}

// UmbrellaFile is the account umbrella-cluster artifact, recording the
// similarity threshold and clustering method that produced it.
type UmbrellaFile struct {
	Creator     string                  `json:"creator"`
	GeneratedAt time.Time               `json:"generated_at"`
	Umbrellas   []types.UmbrellaCluster `json:"umbrellas"`
	Threshold   float64                 `json:"threshold"`
	Method      string                  `json:"method"`
}

// Store persists topic artifacts under <root>/<creator>/topics/. All writes
// replace atomically (temp file, fsync, rename), so readers never observe a
// partial artifact.
type Store struct {
	root string
}

// NewStore returns a Store rooted at the accounts directory.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// VideoTopicsPath returns the V2 artifact path for one video.
func (s *Store) VideoTopicsPath(creator, videoID string) string {
	return filepath.Join(s.creatorDir(creator), videoID+v2Suffix)
}

// HasVideoTopics reports whether a V2 artifact exists for the video.
func (s *Store) HasVideoTopics(creator, videoID string) bool {
	_, err := os.Stat(s.VideoTopicsPath(creator, videoID))
	return err == nil
}

// WriteVideoTopics writes the per-video V2 artifact. Creator and video ID
// in the file are forced to the given identifiers; a zero ExtractedAt is
// stamped with the current time.
func (s *Store) WriteVideoTopics(creator, videoID string, f V2File) error {
	creator = types.NormalizeHandle(creator)
	if err := checkPart("creator", creator); err != nil {
		return err
	}
	if err := checkPart("video id", videoID); err != nil {
		return err
	}
	f.Creator = creator
	f.VideoID = videoID
	if f.ExtractedAt.IsZero() {
		f.ExtractedAt = time.Now().UTC()
	}
	if f.Topics == nil {
		f.Topics = []types.TopicRecord{}
	}
	return s.writeJSON(filepath.Join(s.creatorDir(creator), videoID+v2Suffix), f, creator+"/"+videoID)
}

// ReadVideoTopics loads the per-video V2 artifact.
func (s *Store) ReadVideoTopics(creator, videoID string) (*V2File, error) {
	var f V2File
	if err := s.readJSON(s.VideoTopicsPath(creator, videoID), &f, creator+"/"+videoID); err != nil {
		return nil, err
	}
	return &f, nil
}

// WriteLegacyTags writes the per-video V1 artifact.
func (s *Store) WriteLegacyTags(creator, videoID string, f V1File) error {
	creator = types.NormalizeHandle(creator)
	if err := checkPart("creator", creator); err != nil {
		return err
	}
	if err := checkPart("video id", videoID); err != nil {
		return err
	}
	f.Creator = creator
	f.VideoID = videoID
	if f.ExtractedAt.IsZero() {
		f.ExtractedAt = time.Now().UTC()
	}
	if f.Tags == nil {
		f.Tags = []LegacyTag{}
	}
	return s.writeJSON(filepath.Join(s.creatorDir(creator), videoID+v1Suffix), f, creator+"/"+videoID)
}

// WriteAccountTags writes the account-level aggregation artifact.
func (s *Store) WriteAccountTags(creator string, f AccountTagsFile) error {
	creator = types.NormalizeHandle(creator)
	if err := checkPart("creator", creator); err != nil {
		return err
	}
	f.Creator = creator
	if f.GeneratedAt.IsZero() {
		f.GeneratedAt = time.Now().UTC()
	}
	if f.Tags == nil {
		f.Tags = []types.AccountTagAggregate{}
	}
	return s.writeJSON(filepath.Join(s.creatorDir(creator), accountTags), f, creator)
}

// ReadAccountTags loads the account-level aggregation artifact.
func (s *Store) ReadAccountTags(creator string) (*AccountTagsFile, error) {
	var f AccountTagsFile
	if err := s.readJSON(filepath.Join(s.creatorDir(creator), accountTags), &f, creator); err != nil {
		return nil, err
	}
	return &f, nil
}

// WriteCategory writes the account category artifact.
func (s *Store) WriteCategory(creator string, f CategoryFile) error {
	creator = types.NormalizeHandle(creator)
	if err := checkPart("creator", creator); err != nil {
		return err
	}
	f.Creator = creator
	return s.writeJSON(filepath.Join(s.creatorDir(creator), accountCat), f, creator)
}

// ReadCategory loads the account category artifact.
func (s *Store) ReadCategory(creator string) (*CategoryFile, error) {
	var f CategoryFile
	if err := s.readJSON(filepath.Join(s.creatorDir(creator), accountCat), &f, creator); err != nil {
		return nil, err
	}
	return &f, nil
}

// WriteUmbrellas writes the umbrella-cluster artifact.
func (s *Store) WriteUmbrellas(creator string, f UmbrellaFile) error {
	creator = types.NormalizeHandle(creator)
	if err := checkPart("creator", creator); err != nil {
		return err
	}
	f.Creator = creator
	if f.GeneratedAt.IsZero() {
		f.GeneratedAt = time.Now().UTC()
	}
	if f.Umbrellas == nil {
		f.Umbrellas = []types.UmbrellaCluster{}
	}
	return s.writeJSON(filepath.Join(s.creatorDir(creator), umbrellasFile), f, creator)
}

// ReadUmbrellas loads the umbrella-cluster artifact.
func (s *Store) ReadUmbrellas(creator string) (*UmbrellaFile, error) {
	var f UmbrellaFile
	if err := s.readJSON(filepath.Join(s.creatorDir(creator), umbrellasFile), &f, creator); err != nil {
		return nil, err
	}
	return &f, nil
}

// ListVideoTopics loads every per-video V2 artifact for a creator, keyed by
// video ID. A creator without a topics directory yields an empty map.
// Corrupt artifacts are skipped with a warning rather than failing the
// whole listing.
func (s *Store) ListVideoTopics(creator string) (map[string][]types.TopicRecord, error) {
	creator = types.NormalizeHandle(creator)
	if err := checkPart("creator", creator); err != nil {
		return nil, err
	}

	out := make(map[string][]types.TopicRecord)
	entries, err := os.ReadDir(s.creatorDir(creator))
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, faults.Wrap(faults.Internal, "topics: list "+creator, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, v2Suffix) {
			continue
		}
		videoID := strings.TrimSuffix(name, v2Suffix)
		f, err := s.ReadVideoTopics(creator, videoID)
		if err != nil {
			slog.Warn("skipping unreadable topics artifact",
				"creator", creator, "video", videoID, "err", err)
			continue
		}
		out[videoID] = f.Topics
	}
	return out, nil
}

func (s *Store) creatorDir(creator string) string {
	return filepath.Join(s.root, types.NormalizeHandle(creator), topicsDir)
}

// writeJSON atomically replaces path with the marshalled value.
func (s *Store) writeJSON(path string, v any, subject string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return faults.Wrap(faults.Internal, "topics: marshal "+subject, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return faults.Wrap(faults.Internal, "topics: mkdir "+subject, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-")
	if err != nil {
		return faults.Wrap(faults.Internal, "topics: stage "+subject, err)
	}
	if err := writeAndSyncFile(tmp, data); err != nil {
		os.Remove(tmp.Name())
		return faults.Wrap(faults.Internal, "topics: stage "+subject, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return faults.Wrap(faults.Internal, "topics: stage "+subject, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return faults.Wrap(faults.Internal, "topics: commit "+subject, err)
	}
	return nil
}

func (s *Store) readJSON(path string, v any, subject string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return faults.Wrap(faults.NotFound, "topics: read "+subject, err)
	}
	if err != nil {
		return faults.Wrap(faults.Internal, "topics: read "+subject, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return faults.Wrap(faults.Internal, "topics: parse "+subject, err)
	}
	return nil
}

func writeAndSyncFile(f *os.File, data []byte) error {
	_, werr := f.Write(data)
	serr := f.Sync()
	cerr := f.Close()
	switch {
	case werr != nil:
		return werr
	case serr != nil:
		return serr
	default:
		return cerr
	}
}

// checkPart rejects identifiers that would traverse outside the store.
func checkPart(role, v string) error {
	if v == "" || v == "." || v == ".." || strings.ContainsAny(v, `/\`) {
		return faults.Newf(faults.Validation, "topics: path", "invalid %s %q", role, v)
	}
	return nil
}
