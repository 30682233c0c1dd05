package topics

import (
	"fmt"
	"testing"

	"github.com/MrWong99/reelsonar/pkg/types"
)

func sentencesFixture() []types.Sentence {
	return []types.Sentence{
		{Index: 0, StartSec: 0, EndSec: 3, Text: "Today we talk about Meal Prep for busy weeks."},
		{Index: 1, StartSec: 3, EndSec: 6, Text: "Start by roasting vegetables in bulk."},
		{Index: 2, StartSec: 6, EndSec: 9, Text: "Meal prep containers keep portions honest."},
		{Index: 3, StartSec: 9, EndSec: 12, Text: "Finally, label everything with dates."},
	}
}

func TestFindEvidence_SubstringMatches(t *testing.T) {
	t.Parallel()

	got := findEvidence("meal prep", "meal prep", nil, sentencesFixture(), nil)
	if len(got) != 2 {
		t.Fatalf("got %d evidence entries, want 2: %+v", len(got), got)
	}
	if got[0].SentenceIndex != 0 || got[1].SentenceIndex != 2 {
		t.Errorf("evidence indices = [%d %d], want [0 2] in sentence order",
			got[0].SentenceIndex, got[1].SentenceIndex)
	}
	if got[0].StartSec != 0 || got[0].EndSec != 3 {
		t.Errorf("evidence[0] timings = %v–%v, want 0–3", got[0].StartSec, got[0].EndSec)
	}
	if got[0].Text != "Today we talk about Meal Prep for busy weeks." {
		t.Errorf("evidence[0].Text = %q", got[0].Text)
	}
}

func TestFindEvidence_CanonicalNeedle(t *testing.T) {
	t.Parallel()

	// The raw tag appears nowhere, but the canonical form does.
	got := findEvidence("prepped meals", "meal prep", nil, sentencesFixture(), nil)
	if len(got) != 2 {
		t.Fatalf("got %d evidence entries, want 2 via canonical needle: %+v", len(got), got)
	}
	if got[0].SentenceIndex != 0 {
		t.Errorf("evidence[0].SentenceIndex = %d, want 0", got[0].SentenceIndex)
	}
}

func TestFindEvidence_SimilarityBackfill(t *testing.T) {
	t.Parallel()

	sentences := sentencesFixture()
	topicVec := []float32{1, 0}
	sentVecs := [][]float32{
		{0, 1},     // cos 0, excluded
		{0.6, 0.8}, // cos 0.6
		{1, 0},     // cos 1
		{0.4, 0.9}, // cos ≈ 0.406, below threshold
	}

	got := findEvidence("hydration", "hydration", topicVec, sentences, sentVecs)
	if len(got) != 2 {
		t.Fatalf("got %d evidence entries, want 2: %+v", len(got), got)
	}
	// Best similarity first.
	if got[0].SentenceIndex != 2 || got[1].SentenceIndex != 1 {
		t.Errorf("evidence indices = [%d %d], want [2 1] by similarity",
			got[0].SentenceIndex, got[1].SentenceIndex)
	}
}

func TestFindEvidence_BackfillSkipsLexicalHits(t *testing.T) {
	t.Parallel()

	sentences := sentencesFixture()
	topicVec := []float32{1, 0}
	// Sentence 0 is both a lexical hit and the top similarity; it must not
	// appear twice.
	sentVecs := [][]float32{
		{1, 0},
		{0.9, 0.1},
		{0, 1},
		{0, 1},
	}

	got := findEvidence("meal prep", "meal prep", topicVec, sentences, sentVecs)
	if len(got) != 3 {
		t.Fatalf("got %d evidence entries, want 3: %+v", len(got), got)
	}
	wantOrder := []int{0, 2, 1} // lexical hits in sentence order, then backfill
	seen := make(map[int]bool)
	for i, ev := range got {
		if seen[ev.SentenceIndex] {
			t.Fatalf("sentence %d appears twice", ev.SentenceIndex)
		}
		seen[ev.SentenceIndex] = true
		if ev.SentenceIndex != wantOrder[i] {
			t.Errorf("evidence[%d].SentenceIndex = %d, want %d", i, ev.SentenceIndex, wantOrder[i])
		}
	}
}

func TestFindEvidence_Cap(t *testing.T) {
	t.Parallel()

	var sentences []types.Sentence
	for i := 0; i < 8; i++ {
		sentences = append(sentences, types.Sentence{
			Index: i,
			Text:  fmt.Sprintf("kombucha mention number %d", i),
		})
	}

	got := findEvidence("kombucha", "kombucha", nil, sentences, nil)
	if len(got) != evidenceCap {
		t.Fatalf("got %d evidence entries, want cap of %d", len(got), evidenceCap)
	}
	for i, ev := range got {
		if ev.SentenceIndex != i {
			t.Errorf("evidence[%d].SentenceIndex = %d, want %d (earliest first)", i, ev.SentenceIndex, i)
		}
	}
}

func TestFindEvidence_NoMatch(t *testing.T) {
	t.Parallel()

	got := findEvidence("quantum physics", "quantum physics", []float32{1, 0}, sentencesFixture(), nil)
	if len(got) != 0 {
		t.Errorf("got %d evidence entries, want none: %+v", len(got), got)
	}
}

func TestFindEvidence_EmptySentences(t *testing.T) {
	t.Parallel()

	if got := findEvidence("meal prep", "meal prep", nil, nil, nil); got != nil {
		t.Errorf("got %v, want nil for empty sentence list", got)
	}
}

func TestFindEvidence_FewerVectorsThanSentences(t *testing.T) {
	t.Parallel()

	sentences := sentencesFixture()
	topicVec := []float32{1, 0}
	// Only the first two sentences carry embeddings; the rest must simply
	// be skipped by the backfill.
	sentVecs := [][]float32{
		{0, 1},
		{1, 0},
	}

	got := findEvidence("hydration", "hydration", topicVec, sentences, sentVecs)
	if len(got) != 1 || got[0].SentenceIndex != 1 {
		t.Errorf("got %+v, want single backfill hit on sentence 1", got)
	}
}
