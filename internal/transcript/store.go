// Package transcript persists per-video transcript artifacts and derives
// sentence timings from provider segments.
//
// One artifact exists per (creator, video) pair, stored as a single JSON
// document under <root>/<creator>/transcripts/<video_id>.json. The artifact
// carries the header metadata the rest of the system keys on (language,
// model, confidence), the plain text body, and the ordered sentence list with
// timings. Writes are atomic whole-file replaces — a failed write never
// leaves a partial artifact, which is what keeps the account index invariant
// (record present ⇔ artifact present) true across crashes.
//
// Read also accepts artifacts written before the JSON schema existed: WebVTT
// and SRT subtitle files and bare text bodies. Timings for those are
// reconstructed from cue timings where present, otherwise distributed
// proportional to character counts.
package transcript

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/MrWong99/reelsonar/pkg/faults"
	"github.com/MrWong99/reelsonar/pkg/types"
)

// artifactDir is the per-creator subdirectory artifacts are stored in.
const artifactDir = "transcripts"

// Correction records one vocabulary substitution applied to the body before
// the artifact was written. Method is "phonetic" or "llm".
type Correction struct {
	Original   string  `json:"original"`
	Corrected  string  `json:"corrected"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
}

// Header is the metadata block of a transcript artifact.
type Header struct {
	Creator     string  `json:"creator"`
	VideoID     string  `json:"video_id"`
	Title       string  `json:"title,omitempty"`
	URL         string  `json:"url,omitempty"`
	DurationSec float64 `json:"duration_sec,omitempty"`

	// Language is the BCP-47 code reported by the transcriber.
	Language string `json:"language,omitempty"`

	// ModelID identifies the transcription model, for provenance and for
	// the retranscribe_low_confidence job setting.
	ModelID string `json:"model_id,omitempty"`

	// Confidence is the transcriber's mean confidence in [0,1]; zero when
	// the provider does not report one.
	Confidence float64 `json:"confidence,omitempty"`

	TranscribedAt time.Time `json:"transcribed_at,omitzero"`

	// Corrections lists the vocabulary substitutions applied to Body, in
	// application order. Empty for uncorrected transcripts.
	Corrections []Correction `json:"corrections,omitempty"`
}

// Artifact is one stored transcript: header metadata, the full text body and
// the derived sentence list. Sentences are ordered by Index, contiguous from
// zero.
type Artifact struct {
	Header    Header           `json:"header"`
	Body      string           `json:"body"`
	Sentences []types.Sentence `json:"sentences"`
}

// HasSpeech reports whether the artifact body carries at least minChars
// non-whitespace characters. The ingestion pipeline uses it to decide the
// no-speech skip.
func HasSpeech(a *Artifact, minChars int) bool {
	if minChars <= 0 {
		return true
	}
	if a == nil {
		return false
	}
	n := 0
	for _, r := range a.Body {
		if !unicode.IsSpace(r) {
			n++
			if n >= minChars {
				return true
			}
		}
	}
	return false
}

// Store reads and writes transcript artifacts under a root directory.
// The zero value is not usable; construct with [NewStore].
//
// Writes to the same (creator, video) pair must not race — the job manager
// serialises work per creator. Reads are safe at any time because artifacts
// are replaced atomically.
type Store struct {
	root string
}

// NewStore returns a Store rooted at root (the accounts directory).
// Directories are created lazily on first write.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// PathFor returns the artifact path for the given creator and video. The
// creator handle is normalised first.
func (s *Store) PathFor(creator, videoID string) string {
	creator = types.NormalizeHandle(creator)
	return filepath.Join(s.root, creator, artifactDir, videoID+".json")
}

// Exists reports whether an artifact for the given video is on disk.
func (s *Store) Exists(creator, videoID string) bool {
	if checkComponent("creator", types.NormalizeHandle(creator)) != nil {
		return false
	}
	if checkComponent("video_id", videoID) != nil {
		return false
	}
	_, err := os.Stat(s.PathFor(creator, videoID))
	return err == nil
}

// Write persists one artifact atomically and returns its path. The file is
// staged next to its final location, fsynced, then renamed into place, so a
// crash mid-write leaves either the old content or none.
func (s *Store) Write(creator, videoID string, header Header, body string, sentences []types.Sentence) (string, error) {
	creator = types.NormalizeHandle(creator)
	if err := checkComponent("creator", creator); err != nil {
		return "", err
	}
	if err := checkComponent("video_id", videoID); err != nil {
		return "", err
	}

	header.Creator = creator
	header.VideoID = videoID
	if sentences == nil {
		sentences = []types.Sentence{}
	}
	art := Artifact{Header: header, Body: body, Sentences: sentences}

	data, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return "", faults.Wrap(faults.Internal, "transcript: marshal "+creator+"/"+videoID, err)
	}

	path := s.PathFor(creator, videoID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", faults.Wrap(faults.Internal, "transcript: mkdir "+creator, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), videoID+".json.tmp-")
	if err != nil {
		return "", faults.Wrap(faults.Internal, "transcript: stage "+creator+"/"+videoID, err)
	}
	if err := writeAndSync(tmp, data); err != nil {
		os.Remove(tmp.Name())
		return "", faults.Wrap(faults.Internal, "transcript: stage "+creator+"/"+videoID, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return "", faults.Wrap(faults.Internal, "transcript: stage "+creator+"/"+videoID, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", faults.Wrap(faults.Internal, "transcript: commit "+creator+"/"+videoID, err)
	}
	return path, nil
}

// Read loads the artifact for the given video. JSON artifacts parse
// losslessly; WebVTT, SRT and bare-text files are accepted as legacy input
// with sentences reconstructed from cue timings or character proportions.
//
// A missing artifact returns a NotFound fault; an unparseable one returns
// CorruptTranscript.
func (s *Store) Read(creator, videoID string) (*Artifact, error) {
	creator = types.NormalizeHandle(creator)
	if err := checkComponent("creator", creator); err != nil {
		return nil, err
	}
	if err := checkComponent("video_id", videoID); err != nil {
		return nil, err
	}

	path := s.PathFor(creator, videoID)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, faults.Newf(faults.NotFound, "transcript: read", "no artifact for %s/%s", creator, videoID)
	}
	if err != nil {
		return nil, faults.Wrap(faults.Internal, "transcript: read "+creator+"/"+videoID, err)
	}

	art, err := decode(data)
	if err != nil {
		return nil, faults.Wrap(faults.CorruptTranscript, "transcript: parse "+creator+"/"+videoID, err)
	}
	if art.Header.Creator == "" {
		art.Header.Creator = creator
	}
	if art.Header.VideoID == "" {
		art.Header.VideoID = videoID
	}
	return art, nil
}

// writeAndSync writes data and flushes it to stable storage before closing.
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

// checkComponent rejects values that would escape the store root when used
// as a path element.
func checkComponent(role, v string) error {
	if v == "" || v == "." || v == ".." || strings.ContainsAny(v, `/\`) {
		return faults.Newf(faults.Validation, "transcript: path", "invalid %s %q", role, v)
	}
	return nil
}
