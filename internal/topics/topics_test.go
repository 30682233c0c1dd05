package topics_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/MrWong99/reelsonar/internal/config"
	"github.com/MrWong99/reelsonar/internal/topics"
	"github.com/MrWong99/reelsonar/pkg/faults"
	embmock "github.com/MrWong99/reelsonar/pkg/provider/embeddings/mock"
	"github.com/MrWong99/reelsonar/pkg/provider/nlp"
	nlpmock "github.com/MrWong99/reelsonar/pkg/provider/nlp/mock"
	"github.com/MrWong99/reelsonar/pkg/types"
)

const fixtureBody = "I batch cook chicken every sunday. Meal prep saves me hours. Hydration matters too."

func approx(a, b float64) bool { return math.Abs(a-b) <= 1e-9 }

func axis8(i int) []float32 {
	v := make([]float32, 8)
	v[i] = 1
	return v
}

func fixtureSentences() []types.Sentence {
	return []types.Sentence{
		{Index: 0, StartSec: 0, EndSec: 3, Text: "I batch cook chicken every sunday."},
		{Index: 1, StartSec: 3, EndSec: 5.5, Text: "Meal prep saves me hours."},
		{Index: 2, StartSec: 5.5, EndSec: 7, Text: "Hydration matters too."},
	}
}

func fixtureNLP() *nlpmock.Provider {
	return &nlpmock.Provider{
		NounPhrasesFunc: func(_ context.Context, text string) ([]nlp.Phrase, error) {
			switch text {
			case fixtureBody:
				return []nlp.Phrase{
					{Text: "chicken", Lemma: "chicken"},
					{Text: "Meal prep", Lemma: "meal prep"},
					{Text: "hours", Lemma: "hour"},
					{Text: "Hydration", Lemma: "hydration"},
				}, nil
			case "Meal prep basics":
				return []nlp.Phrase{
					{Text: "Meal prep basics", Lemma: "meal prep basic"},
					{Text: "Meal prep", Lemma: "meal prep"},
				}, nil
			default:
				return nil, fmt.Errorf("unexpected nlp text %q", text)
			}
		},
	}
}

func fixtureEmbedder() *embmock.Provider {
	sentences := fixtureSentences()
	vecs := map[string][]float32{
		"chicken":          axis8(0),
		"meal prep":        axis8(1),
		"hours":            axis8(2),
		"hydration":        axis8(3),
		"meal prep basics": axis8(4),
		"fitness":          axis8(5),
		fixtureBody:        {1, 1, 1, 1, 1, 1, 0, 0},
		sentences[0].Text:  axis8(0),
		sentences[1].Text:  axis8(1),
		sentences[2].Text:  axis8(3),
	}
	return &embmock.Provider{
		EmbedFunc: func(_ context.Context, text string) ([]float32, error) {
			v, ok := vecs[text]
			if !ok {
				return nil, fmt.Errorf("unexpected embed text %q", text)
			}
			return v, nil
		},
	}
}

func fixtureInput() topics.Input {
	return topics.Input{
		Creator: "fitcoach",
		Video: types.VideoMeta{
			ID:       "v1",
			Title:    "Meal prep basics",
			Hashtags: []string{"fitness"},
		},
		Body:      fixtureBody,
		Sentences: fixtureSentences(),
		Rules: config.NewRules(nil,
			map[string]string{"meal prep basics": "meal prep"},
			config.AutoMergeThreshold{}),
	}
}

func TestExtract_FullPipeline(t *testing.T) {
	t.Parallel()

	embedder := fixtureEmbedder()
	e := topics.NewExtractor(fixtureNLP(), embedder)

	res, err := e.Extract(context.Background(), fixtureInput())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	byTag := make(map[string]types.TopicRecord)
	for _, rec := range res.Records {
		byTag[rec.Tag] = rec
	}
	if len(res.Records) != 5 {
		t.Fatalf("got %d records, want 5: %+v", len(res.Records), byTag)
	}
	if _, ok := byTag["fitness"]; ok {
		t.Error("fitness has no supporting sentence and must be dropped")
	}

	chicken, ok := byTag["chicken"]
	if !ok {
		t.Fatal("missing record for chicken")
	}
	if chicken.Canonical != "chicken" || chicken.Source != types.SourceTranscript {
		t.Errorf("chicken record = %+v", chicken)
	}
	if len(chicken.Evidence) != 1 || chicken.Evidence[0].SentenceIndex != 0 {
		t.Errorf("chicken evidence = %+v, want sentence 0", chicken.Evidence)
	}
	if chicken.Evidence[0].Text != "I batch cook chicken every sunday." {
		t.Errorf("chicken evidence text = %q", chicken.Evidence[0].Text)
	}

	basics, ok := byTag["meal prep basics"]
	if !ok {
		t.Fatal("missing record for meal prep basics")
	}
	if basics.Canonical != "meal prep" {
		t.Errorf("meal prep basics canonical = %q, want merge-rule target", basics.Canonical)
	}
	if basics.Source != types.SourceTitle {
		t.Errorf("meal prep basics source = %q, want title", basics.Source)
	}
	if len(basics.Evidence) != 1 || basics.Evidence[0].SentenceIndex != 1 {
		t.Errorf("meal prep basics evidence = %+v, want canonical hit on sentence 1", basics.Evidence)
	}

	for tag, rec := range byTag {
		if rec.Confidence <= 0 || rec.Confidence > 1 {
			t.Errorf("%s: confidence %v out of range", tag, rec.Confidence)
		}
		if rec.Stats.DistinctSentences != len(rec.Evidence) {
			t.Errorf("%s: DistinctSentences %d != %d evidence entries",
				tag, rec.Stats.DistinctSentences, len(rec.Evidence))
		}
		if !approx(rec.Stats.MMRScore, rec.ScoreMMR) {
			t.Errorf("%s: stats MMR %v != record MMR %v", tag, rec.Stats.MMRScore, rec.ScoreMMR)
		}
	}

	wantLegacy := []topics.LegacyTag{
		{Tag: "meal prep", Count: 2},
		{Tag: "chicken", Count: 1},
		{Tag: "fitness", Count: 1},
		{Tag: "hours", Count: 1},
		{Tag: "hydration", Count: 1},
		{Tag: "meal prep basics", Count: 1},
	}
	if len(res.Legacy) != len(wantLegacy) {
		t.Fatalf("got %d legacy tags, want %d: %+v", len(res.Legacy), len(wantLegacy), res.Legacy)
	}
	for i, w := range wantLegacy {
		if res.Legacy[i] != w {
			t.Errorf("legacy[%d] = %+v, want %+v", i, res.Legacy[i], w)
		}
	}

	calls := embedder.EmbedBatchCalls
	if len(calls) != 2 {
		t.Fatalf("got %d EmbedBatch calls, want 2 (candidates+doc, then sentences)", len(calls))
	}
	if n := len(calls[0].Texts); n != 7 {
		t.Errorf("first batch has %d texts, want 6 candidates + document", n)
	}
	if last := calls[0].Texts[len(calls[0].Texts)-1]; last != fixtureBody {
		t.Errorf("document text = %q, want transcript body", last)
	}
	if n := len(calls[1].Texts); n != 3 {
		t.Errorf("sentence batch has %d texts, want 3", n)
	}
}

func TestExtract_TopKCaps(t *testing.T) {
	t.Parallel()

	e := topics.NewExtractor(fixtureNLP(), fixtureEmbedder(), topics.WithTopK(2))
	res, err := e.Extract(context.Background(), fixtureInput())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("got %d records, want 2 with topK=2: %+v", len(res.Records), res.Records)
	}
	// All legacy tags stay: the cap applies to selection, not mining.
	if len(res.Legacy) != 6 {
		t.Errorf("got %d legacy tags, want all 6", len(res.Legacy))
	}
}

func TestExtract_NoSpeechNoEvidence(t *testing.T) {
	t.Parallel()

	embedder := &embmock.Provider{
		EmbedFunc: func(_ context.Context, text string) ([]float32, error) {
			switch text {
			case "meal prep basics":
				return axis8(0), nil
			case "meal prep":
				return axis8(1), nil
			case "Meal prep basics": // document fallback = title
				return []float32{1, 1, 0, 0, 0, 0, 0, 0}, nil
			}
			return nil, fmt.Errorf("unexpected embed text %q", text)
		},
	}
	e := topics.NewExtractor(fixtureNLP(), embedder)

	res, err := e.Extract(context.Background(), topics.Input{
		Creator: "fitcoach",
		Video:   types.VideoMeta{ID: "v2", Title: "Meal prep basics"},
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	// No sentences means no evidence, so every selection is dropped — but
	// the legacy tag list still reflects the mined candidates.
	if res.Records == nil || len(res.Records) != 0 {
		t.Errorf("records = %#v, want empty non-nil slice", res.Records)
	}
	wantLegacy := []topics.LegacyTag{
		{Tag: "meal prep", Count: 1},
		{Tag: "meal prep basics", Count: 1},
	}
	if len(res.Legacy) != len(wantLegacy) {
		t.Fatalf("got %d legacy tags, want %d: %+v", len(res.Legacy), len(wantLegacy), res.Legacy)
	}
	for i, w := range wantLegacy {
		if res.Legacy[i] != w {
			t.Errorf("legacy[%d] = %+v, want %+v", i, res.Legacy[i], w)
		}
	}

	calls := embedder.EmbedBatchCalls
	if len(calls) != 1 {
		t.Fatalf("got %d EmbedBatch calls, want 1 (no sentence batch)", len(calls))
	}
	if last := calls[0].Texts[len(calls[0].Texts)-1]; last != "Meal prep basics" {
		t.Errorf("document text = %q, want title fallback", last)
	}
}

func TestExtract_NoCandidates(t *testing.T) {
	t.Parallel()

	embedder := &embmock.Provider{}
	e := topics.NewExtractor(&nlpmock.Provider{}, embedder)

	res, err := e.Extract(context.Background(), topics.Input{Creator: "fitcoach"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Records == nil || len(res.Records) != 0 {
		t.Errorf("records = %#v, want empty non-nil slice", res.Records)
	}
	if len(res.Legacy) != 0 {
		t.Errorf("legacy = %+v, want empty", res.Legacy)
	}
	if len(embedder.EmbedBatchCalls) != 0 {
		t.Error("nothing to embed when no candidates were mined")
	}
}

func TestExtract_NLPError(t *testing.T) {
	t.Parallel()

	p := &nlpmock.Provider{NounPhrasesErr: errors.New("sidecar unavailable")}
	e := topics.NewExtractor(p, fixtureEmbedder())

	_, err := e.Extract(context.Background(), topics.Input{Body: "some speech"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "transcript noun phrases") {
		t.Errorf("err = %v, want transcript noun phrase context", err)
	}
}

func TestExtract_EmbedError(t *testing.T) {
	t.Parallel()

	embedder := &embmock.Provider{EmbedBatchErr: errors.New("model offline")}
	e := topics.NewExtractor(fixtureNLP(), embedder)

	_, err := e.Extract(context.Background(), fixtureInput())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "embed candidates") {
		t.Errorf("err = %v, want embed candidates context", err)
	}
}

func TestExtract_EmbedCountMismatch(t *testing.T) {
	t.Parallel()

	embedder := &embmock.Provider{EmbedBatchResult: [][]float32{{1}}}
	e := topics.NewExtractor(fixtureNLP(), embedder)

	_, err := e.Extract(context.Background(), fixtureInput())
	if err == nil {
		t.Fatal("expected error")
	}
	if kind := faults.KindOf(err); kind != faults.Internal {
		t.Errorf("KindOf = %v, want Internal", kind)
	}
}
