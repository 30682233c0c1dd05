package topics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/reelsonar/internal/config"
	"github.com/MrWong99/reelsonar/internal/vecmath"
	"github.com/MrWong99/reelsonar/pkg/faults"
	"github.com/MrWong99/reelsonar/pkg/provider/embeddings"
	"github.com/MrWong99/reelsonar/pkg/types"
)

// classifierTopN is how many top canonical topics represent a creator.
const classifierTopN = 10

// ErrNoSignal is returned by [Classifier.Classify] when a creator has
// neither canonical topics nor sentences to build a representation from.
var ErrNoSignal = errors.New("topics: classify: no topics or sentences")

// Classifier assigns a creator to one entry of the closed category set by
// comparing a creator-level embedding against the fixed category
// descriptors. Descriptor embeddings are computed once on first use and
// cached for the classifier's lifetime, so results are deterministic for a
// fixed embedding model. Safe for concurrent use.
type Classifier struct {
	embed embeddings.Provider

	mu      sync.Mutex
	catVecs [][]float32
}

// NewClassifier returns a Classifier over the embedding port.
func NewClassifier(embedProvider embeddings.Provider) *Classifier {
	return &Classifier{embed: embedProvider}
}

// Classify builds the creator representation — the mean embedding of the
// top canonical topics, or of an evenly spaced sample of sentences when no
// topics exist — and returns the closest category with the full score map.
// Ties resolve to the earlier entry in the category table.
func (c *Classifier) Classify(ctx context.Context, topTopics []string, sentences []string) (types.CategoryAssignment, error) {
	texts := topTopics
	if len(texts) > classifierTopN {
		texts = texts[:classifierTopN]
	}
	if len(texts) == 0 {
		texts = sampleEvenly(sentences, classifierTopN)
	}
	if len(texts) == 0 {
		return types.CategoryAssignment{}, ErrNoSignal
	}

	vecs, err := c.embed.EmbedBatch(ctx, texts)
	if err != nil {
		return types.CategoryAssignment{}, fmt.Errorf("topics: embed creator representation: %w", err)
	}
	rep, ok := vecmath.Mean(vecs)
	if !ok {
		return types.CategoryAssignment{}, faults.Newf(faults.Internal, "topics: classify", "empty creator representation")
	}

	catVecs, err := c.categoryVecs(ctx)
	if err != nil {
		return types.CategoryAssignment{}, err
	}

	assignment := types.CategoryAssignment{
		AllScores:  make(map[string]float64, len(config.Categories)),
		AssignedAt: time.Now().UTC(),
	}
	for i, cat := range config.Categories {
		score := vecmath.Cosine(rep, catVecs[i])
		assignment.AllScores[cat.Name] = score
		if assignment.Category == "" || score > assignment.Confidence {
			assignment.Category = cat.Name
			assignment.Confidence = score
		}
	}
	return assignment, nil
}

// categoryVecs embeds the category descriptors once and caches them.
func (c *Classifier) categoryVecs(ctx context.Context) ([][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.catVecs != nil {
		return c.catVecs, nil
	}

	descriptors := make([]string, len(config.Categories))
	for i, cat := range config.Categories {
		descriptors[i] = cat.Descriptor
	}
	vecs, err := c.embed.EmbedBatch(ctx, descriptors)
	if err != nil {
		return nil, fmt.Errorf("topics: embed category descriptors: %w", err)
	}
	if len(vecs) != len(descriptors) {
		return nil, faults.Newf(faults.Internal, "topics: embed category descriptors",
			"provider returned %d vectors for %d descriptors", len(vecs), len(descriptors))
	}
	c.catVecs = vecs
	return c.catVecs, nil
}

// sampleEvenly picks up to n elements at even spacing, preserving order.
func sampleEvenly(texts []string, n int) []string {
	if len(texts) <= n {
		return texts
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, texts[i*len(texts)/n])
	}
	return out
}
