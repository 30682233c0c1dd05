package transcript_test

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/reelsonar/internal/transcript"
	"github.com/MrWong99/reelsonar/pkg/faults"
	"github.com/MrWong99/reelsonar/pkg/types"
)

func newStore(t *testing.T) *transcript.Store {
	t.Helper()
	return transcript.NewStore(t.TempDir())
}

func sampleHeader() transcript.Header {
	return transcript.Header{
		Title:         "5 mobility drills",
		URL:           "https://example.com/v/abc123",
		DurationSec:   42.5,
		Language:      "en",
		ModelID:       "whisper-base",
		Confidence:    0.91,
		TranscribedAt: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) <= 1e-9 }

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	body := "Welcome back to the channel. Today we meal prep for the week."
	sentences := []types.Sentence{
		{Index: 0, StartSec: 0, EndSec: 2.5, Text: "Welcome back to the channel."},
		{Index: 1, StartSec: 2.5, EndSec: 5, Text: "Today we meal prep for the week."},
	}

	path, err := s.Write("fitcoach", "abc123", sampleHeader(), body, sentences)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if path != s.PathFor("fitcoach", "abc123") {
		t.Errorf("Write path = %q, want %q", path, s.PathFor("fitcoach", "abc123"))
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("artifact not on disk: %v", err)
	}

	art, err := s.Read("fitcoach", "abc123")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if art.Header.Creator != "fitcoach" || art.Header.VideoID != "abc123" {
		t.Errorf("header identity = %q/%q, want fitcoach/abc123", art.Header.Creator, art.Header.VideoID)
	}
	if art.Header.Language != "en" || art.Header.ModelID != "whisper-base" {
		t.Errorf("header metadata not preserved: %+v", art.Header)
	}
	if !approx(art.Header.Confidence, 0.91) {
		t.Errorf("Confidence = %v, want 0.91", art.Header.Confidence)
	}
	if art.Body != body {
		t.Errorf("Body = %q, want %q", art.Body, body)
	}
	if len(art.Sentences) != 2 {
		t.Fatalf("got %d sentences, want 2", len(art.Sentences))
	}
	if art.Sentences[1].Index != 1 || !approx(art.Sentences[1].EndSec, 5) {
		t.Errorf("sentence[1] = %+v", art.Sentences[1])
	}
}

func TestWrite_NormalisesHandle(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	if _, err := s.Write("@FitCoach", "v1", transcript.Header{}, "hello there", nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !s.Exists("fitcoach", "v1") {
		t.Error("artifact not found under normalised handle")
	}
	art, err := s.Read("FitCoach", "v1")
	if err != nil {
		t.Fatalf("Read with unnormalised handle: %v", err)
	}
	if art.Header.Creator != "fitcoach" {
		t.Errorf("Creator = %q, want fitcoach", art.Header.Creator)
	}
}

func TestWrite_CorrectionsPersist(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	h := sampleHeader()
	h.Corrections = []transcript.Correction{
		{Original: "kombusha", Corrected: "kombucha", Confidence: 0.94, Method: "phonetic"},
	}
	if _, err := s.Write("brewer", "v9", h, "kombucha brewing basics", nil); err != nil {
		t.Fatalf("Write: %v", err)
	}

	art, err := s.Read("brewer", "v9")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(art.Header.Corrections) != 1 {
		t.Fatalf("got %d corrections, want 1", len(art.Header.Corrections))
	}
	c := art.Header.Corrections[0]
	if c.Original != "kombusha" || c.Corrected != "kombucha" || c.Method != "phonetic" {
		t.Errorf("correction = %+v", c)
	}
}

func TestRead_Missing(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	_, err := s.Read("nobody", "gone")
	if err == nil {
		t.Fatal("Read of missing artifact succeeded")
	}
	if kind := faults.KindOf(err); kind != faults.NotFound {
		t.Errorf("KindOf = %v, want %v", kind, faults.NotFound)
	}
}

func TestRead_CorruptJSON(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	path := s.PathFor("fitcoach", "bad")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{"header": nope`), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := s.Read("fitcoach", "bad")
	if err == nil {
		t.Fatal("Read of corrupt artifact succeeded")
	}
	if kind := faults.KindOf(err); kind != faults.CorruptTranscript {
		t.Errorf("KindOf = %v, want %v", kind, faults.CorruptTranscript)
	}
}

func TestRead_LegacyWebVTT(t *testing.T) {
	t.Parallel()

	vtt := strings.Join([]string{
		"WEBVTT",
		"",
		"00:00:00.000 --> 00:00:02.500",
		"Welcome back to the channel.",
		"",
		"00:00:02.500 --> 00:00:05.000",
		"Today we meal prep for the week.",
		"",
	}, "\n")

	s := newStore(t)
	path := s.PathFor("fitcoach", "legacy1")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(vtt), 0o644); err != nil {
		t.Fatal(err)
	}

	art, err := s.Read("fitcoach", "legacy1")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := "Welcome back to the channel. Today we meal prep for the week."
	if art.Body != want {
		t.Errorf("Body = %q, want %q", art.Body, want)
	}
	if !approx(art.Header.DurationSec, 5) {
		t.Errorf("DurationSec = %v, want 5", art.Header.DurationSec)
	}
	if len(art.Sentences) != 2 {
		t.Fatalf("got %d sentences, want 2: %+v", len(art.Sentences), art.Sentences)
	}
	if !approx(art.Sentences[0].StartSec, 0) || !approx(art.Sentences[0].EndSec, 2.5) {
		t.Errorf("sentence[0] timing = [%v, %v], want [0, 2.5]", art.Sentences[0].StartSec, art.Sentences[0].EndSec)
	}
	if !approx(art.Sentences[1].EndSec, 5) {
		t.Errorf("sentence[1].EndSec = %v, want 5", art.Sentences[1].EndSec)
	}
}

func TestRead_LegacySRT(t *testing.T) {
	t.Parallel()

	srt := strings.Join([]string{
		"1",
		"00:00:00,000 --> 00:00:03,000",
		"Grab your dumbbells.",
		"",
		"2",
		"00:00:03,000 --> 00:00:06,500",
		"We start with goblet squats today.",
		"",
	}, "\n")

	s := newStore(t)
	path := s.PathFor("fitcoach", "legacy2")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(srt), 0o644); err != nil {
		t.Fatal(err)
	}

	art, err := s.Read("fitcoach", "legacy2")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := "Grab your dumbbells. We start with goblet squats today."
	if art.Body != want {
		t.Errorf("Body = %q, want %q", art.Body, want)
	}
	if !approx(art.Header.DurationSec, 6.5) {
		t.Errorf("DurationSec = %v, want 6.5", art.Header.DurationSec)
	}
	if len(art.Sentences) != 2 {
		t.Fatalf("got %d sentences, want 2", len(art.Sentences))
	}
	if !approx(art.Sentences[1].EndSec, 6.5) {
		t.Errorf("sentence[1].EndSec = %v, want 6.5", art.Sentences[1].EndSec)
	}
}

func TestRead_LegacyPlainText(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	path := s.PathFor("fitcoach", "legacy3")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("First sentence. Second sentence."), 0o644); err != nil {
		t.Fatal(err)
	}

	art, err := s.Read("fitcoach", "legacy3")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if art.Body != "First sentence. Second sentence." {
		t.Errorf("Body = %q", art.Body)
	}
	if len(art.Sentences) != 2 {
		t.Fatalf("got %d sentences, want 2", len(art.Sentences))
	}
	for _, sn := range art.Sentences {
		if sn.StartSec != 0 || sn.EndSec != 0 {
			t.Errorf("legacy text sentence has non-zero timing: %+v", sn)
		}
	}
}

func TestExists(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	if s.Exists("fitcoach", "v1") {
		t.Error("Exists true before write")
	}
	if _, err := s.Write("fitcoach", "v1", transcript.Header{}, "hi", nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !s.Exists("fitcoach", "v1") {
		t.Error("Exists false after write")
	}
}

func TestWrite_RejectsUnsafeIDs(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	for _, bad := range []string{"", "..", ".", "a/b", `a\b`} {
		if _, err := s.Write("fitcoach", bad, transcript.Header{}, "x", nil); faults.KindOf(err) != faults.Validation {
			t.Errorf("Write with video_id %q: KindOf = %v, want %v", bad, faults.KindOf(err), faults.Validation)
		}
	}
	if _, err := s.Write("a/b", "v1", transcript.Header{}, "x", nil); faults.KindOf(err) != faults.Validation {
		t.Errorf("Write with creator a/b: KindOf = %v, want %v", faults.KindOf(err), faults.Validation)
	}
}

func TestHasSpeech(t *testing.T) {
	t.Parallel()

	art := &transcript.Artifact{Body: "hello world"} // 10 non-whitespace chars
	if !transcript.HasSpeech(art, 5) {
		t.Error("HasSpeech(10 chars, min 5) = false")
	}
	if !transcript.HasSpeech(art, 10) {
		t.Error("HasSpeech(10 chars, min 10) = false")
	}
	if transcript.HasSpeech(art, 11) {
		t.Error("HasSpeech(10 chars, min 11) = true")
	}
	if transcript.HasSpeech(nil, 1) {
		t.Error("HasSpeech(nil, 1) = true")
	}
	if !transcript.HasSpeech(nil, 0) {
		t.Error("HasSpeech(nil, 0) = false")
	}
	if transcript.HasSpeech(&transcript.Artifact{Body: "  \n\t "}, 1) {
		t.Error("HasSpeech(whitespace only, 1) = true")
	}
}
