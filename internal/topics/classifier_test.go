package topics_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/MrWong99/reelsonar/internal/config"
	"github.com/MrWong99/reelsonar/internal/topics"
	embmock "github.com/MrWong99/reelsonar/pkg/provider/embeddings/mock"
)

// catAxis returns the unit vector along category i of the category table.
func catAxis(i int) []float32 {
	v := make([]float32, len(config.Categories))
	v[i] = 1
	return v
}

func approxLoose(a, b float64) bool {
	d := a - b
	return d < 1e-5 && d > -1e-5
}

// classifierEmbedder embeds each category descriptor onto its own axis and
// resolves any other text through the given map.
func classifierEmbedder(topicVecs map[string][]float32) *embmock.Provider {
	return &embmock.Provider{
		EmbedFunc: func(_ context.Context, text string) ([]float32, error) {
			for i, cat := range config.Categories {
				if text == cat.Descriptor {
					return catAxis(i), nil
				}
			}
			if v, ok := topicVecs[text]; ok {
				return v, nil
			}
			return nil, fmt.Errorf("unexpected embed text %q", text)
		},
	}
}

func TestClassify_TopTopics(t *testing.T) {
	t.Parallel()

	embedder := classifierEmbedder(map[string][]float32{
		"deadlift form":    catAxis(0), // fitness
		"protein intake":   catAxis(0),
		"skincare routine": catAxis(2), // beauty
	})
	c := topics.NewClassifier(embedder)

	got, err := c.Classify(context.Background(),
		[]string{"deadlift form", "protein intake", "skincare routine"}, nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}

	if got.Category != "fitness" {
		t.Errorf("Category = %q, want fitness", got.Category)
	}
	// Mean representation (2/3 fitness, 1/3 beauty): cos 2/√5 vs 1/√5.
	if !approxLoose(got.Confidence, 0.8944272) {
		t.Errorf("Confidence = %v, want ≈0.894", got.Confidence)
	}
	if len(got.AllScores) != len(config.Categories) {
		t.Fatalf("AllScores has %d entries, want %d", len(got.AllScores), len(config.Categories))
	}
	if !approxLoose(got.AllScores["beauty"], 0.4472136) {
		t.Errorf("AllScores[beauty] = %v, want ≈0.447", got.AllScores["beauty"])
	}
	if got.AllScores["gaming"] != 0 {
		t.Errorf("AllScores[gaming] = %v, want 0", got.AllScores["gaming"])
	}
	if got.AssignedAt.IsZero() {
		t.Error("AssignedAt not stamped")
	}
}

func TestClassify_TieKeepsTableOrder(t *testing.T) {
	t.Parallel()

	hybrid := catAxis(0)
	hybrid[1] = 1 // equally fitness and food
	embedder := classifierEmbedder(map[string][]float32{"gym meal plans": hybrid})
	c := topics.NewClassifier(embedder)

	got, err := c.Classify(context.Background(), []string{"gym meal plans"}, nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.Category != "fitness" {
		t.Errorf("Category = %q, want the earlier table entry on a tie", got.Category)
	}
}

func TestClassify_SentenceFallback(t *testing.T) {
	t.Parallel()

	embedder := classifierEmbedder(map[string][]float32{"speedrun strategies": catAxis(7)}) // gaming
	c := topics.NewClassifier(embedder)

	sentences := make([]string, 25)
	for i := range sentences {
		sentences[i] = "speedrun strategies"
	}
	got, err := c.Classify(context.Background(), nil, sentences)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.Category != "gaming" {
		t.Errorf("Category = %q, want gaming", got.Category)
	}

	calls := embedder.EmbedBatchCalls
	if len(calls) != 2 {
		t.Fatalf("got %d EmbedBatch calls, want 2 (sample, then descriptors)", len(calls))
	}
	if n := len(calls[0].Texts); n != 10 {
		t.Errorf("sampled %d sentences, want 10", n)
	}
	if n := len(calls[1].Texts); n != len(config.Categories) {
		t.Errorf("embedded %d descriptors, want %d", n, len(config.Categories))
	}
}

func TestClassify_TopicsCapped(t *testing.T) {
	t.Parallel()

	vecs := make(map[string][]float32)
	var names []string
	for i := 0; i < 14; i++ {
		name := fmt.Sprintf("topic%02d", i)
		names = append(names, name)
		vecs[name] = catAxis(0)
	}
	embedder := classifierEmbedder(vecs)
	c := topics.NewClassifier(embedder)

	if _, err := c.Classify(context.Background(), names, nil); err != nil {
		t.Fatalf("Classify: %v", err)
	}
	texts := embedder.EmbedBatchCalls[0].Texts
	if len(texts) != 10 {
		t.Fatalf("embedded %d topics, want 10", len(texts))
	}
	if texts[9] != "topic09" {
		t.Errorf("last embedded topic = %q, want topic09", texts[9])
	}
}

func TestClassify_NoSignal(t *testing.T) {
	t.Parallel()

	c := topics.NewClassifier(classifierEmbedder(nil))
	_, err := c.Classify(context.Background(), nil, nil)
	if !errors.Is(err, topics.ErrNoSignal) {
		t.Errorf("err = %v, want ErrNoSignal", err)
	}
}

func TestClassify_DescriptorsEmbeddedOnce(t *testing.T) {
	t.Parallel()

	embedder := classifierEmbedder(map[string][]float32{"leg day": catAxis(0)})
	c := topics.NewClassifier(embedder)

	for i := 0; i < 2; i++ {
		got, err := c.Classify(context.Background(), []string{"leg day"}, nil)
		if err != nil {
			t.Fatalf("Classify #%d: %v", i+1, err)
		}
		if got.Category != "fitness" {
			t.Errorf("Classify #%d: Category = %q, want fitness", i+1, got.Category)
		}
	}
	// Representation, descriptors, representation: the descriptor batch must
	// not repeat.
	if n := len(embedder.EmbedBatchCalls); n != 3 {
		t.Errorf("got %d EmbedBatch calls, want 3", n)
	}
}

func TestClassify_EmbedError(t *testing.T) {
	t.Parallel()

	embedder := &embmock.Provider{EmbedBatchErr: errors.New("model offline")}
	c := topics.NewClassifier(embedder)

	_, err := c.Classify(context.Background(), []string{"leg day"}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "creator representation") {
		t.Errorf("err = %v, want creator representation context", err)
	}
}
