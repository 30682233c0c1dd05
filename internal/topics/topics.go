// Package topics turns transcripts into ranked, evidence-backed topic
// records and rolls them up into account-level artifacts.
//
// Per-video extraction runs a fixed pipeline: noun-phrase candidates from
// the NLP port (transcript, title and hashtags), one embedding per unique
// candidate plus one for the whole document, maximal-marginal-relevance
// selection for diversity, canonicalisation under the active rule snapshot,
// supporting-sentence evidence, and a confidence score derived from the MMR
// score and the evidence count. The pipeline is deterministic for fixed
// inputs, a fixed rule snapshot and a fixed embedding model.
//
// The package also owns the account-level artifacts built on top of the
// per-video records: the tag aggregation ([Aggregate]), the closed-set
// category classifier ([Classifier]) and the artifact store ([Store]) for
// everything under a creator's topics/ directory.
package topics

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/MrWong99/reelsonar/internal/config"
	"github.com/MrWong99/reelsonar/internal/vecmath"
	"github.com/MrWong99/reelsonar/pkg/faults"
	"github.com/MrWong99/reelsonar/pkg/provider/embeddings"
	"github.com/MrWong99/reelsonar/pkg/provider/nlp"
	"github.com/MrWong99/reelsonar/pkg/types"
)

const (
	defaultTopK   = 10
	defaultLambda = 0.7
)

// Option configures an [Extractor].
type Option func(*Extractor)

// WithTopK caps the number of topics selected per video. Default: 10.
func WithTopK(k int) Option {
	return func(e *Extractor) { e.topK = k }
}

// WithLambda sets the MMR relevance/diversity trade-off λ. Default: 0.7.
func WithLambda(lambda float64) Option {
	return func(e *Extractor) { e.lambda = lambda }
}

// Extractor runs per-video topic extraction. Stateless between calls and
// safe for concurrent use as long as the providers are.
type Extractor struct {
	nlp    nlp.Provider
	embed  embeddings.Provider
	topK   int
	lambda float64
}

// NewExtractor returns an Extractor over the given NLP and embedding ports.
func NewExtractor(nlpProvider nlp.Provider, embedProvider embeddings.Provider, opts ...Option) *Extractor {
	e := &Extractor{
		nlp:    nlpProvider,
		embed:  embedProvider,
		topK:   defaultTopK,
		lambda: defaultLambda,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Input carries everything one extraction run needs. Rules may be nil, in
// which case an empty rule set with default auto-merge thresholds applies.
type Input struct {
	Creator   string
	Video     types.VideoMeta
	Body      string
	Sentences []types.Sentence
	Rules     *config.Rules
}

// Result is the output of one extraction run.
type Result struct {
	// Records are the selected topics in MMR order. Never nil.
	Records []types.TopicRecord

	// Legacy is the frequency-ranked V1 tag list (all candidates before
	// selection, capped at 20).
	Legacy []LegacyTag
}

// EngineID reports the identifier of the underlying NLP engine, recorded on
// V2 artifacts for provenance.
func (e *Extractor) EngineID() string {
	return e.nlp.EngineID()
}

// Extract runs the full pipeline for one video.
//
// Topics whose evidence search comes up empty are dropped: every emitted
// record carries at least one supporting sentence from this video. An empty
// transcript with no usable title or hashtag candidates yields an empty
// result, not an error.
func (e *Extractor) Extract(ctx context.Context, in Input) (*Result, error) {
	rules := in.Rules
	if rules == nil {
		rules = config.NewRules(nil, nil, config.AutoMergeThreshold{})
	}

	cands, err := e.mineCandidates(ctx, in.Body, in.Video, rules)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Records: []types.TopicRecord{},
		Legacy:  legacyTags(cands),
	}
	if len(cands) == 0 {
		return result, nil
	}

	docText := in.Body
	if strings.TrimSpace(docText) == "" {
		docText = in.Video.Title
	}
	texts := make([]string, 0, len(cands)+1)
	for _, c := range cands {
		texts = append(texts, c.Text)
	}
	texts = append(texts, docText)

	vecs, err := e.embed.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("topics: embed candidates: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, faults.Newf(faults.Internal, "topics: embed candidates",
			"provider returned %d vectors for %d texts", len(vecs), len(texts))
	}
	candVecs, docVec := vecs[:len(cands)], vecs[len(cands)]

	selected := selectMMR(candVecs, docVec, e.lambda, e.topK)

	var sentVecs [][]float32
	if len(selected) > 0 && len(in.Sentences) > 0 {
		sentTexts := make([]string, len(in.Sentences))
		for i, s := range in.Sentences {
			sentTexts[i] = s.Text
		}
		sentVecs, err = e.embed.EmbedBatch(ctx, sentTexts)
		if err != nil {
			return nil, fmt.Errorf("topics: embed sentences: %w", err)
		}
	}

	canon := NewCanonicalizer(rules)
	dropped := 0
	for _, sel := range selected {
		cand := cands[sel.Index]
		vec := candVecs[sel.Index]

		canonical := canon.Resolve(cand.Text, vec)
		evidence := findEvidence(cand.Text, canonical, vec, in.Sentences, sentVecs)
		if len(evidence) == 0 {
			dropped++
			continue
		}

		result.Records = append(result.Records, types.TopicRecord{
			Tag:        cand.Text,
			Canonical:  canonical,
			ScoreMMR:   sel.Score,
			Confidence: confidence(sel.Score, len(evidence)),
			Evidence:   evidence,
			Source:     cand.Source,
			Stats: types.TopicStats{
				DistinctSentences: len(evidence),
				MMRScore:          sel.Score,
			},
		})
	}

	slog.Debug("topics extracted",
		"creator", in.Creator,
		"video", in.Video.ID,
		"candidates", len(cands),
		"selected", len(selected),
		"records", len(result.Records),
		"dropped_no_evidence", dropped,
	)
	return result, nil
}

// confidence folds the MMR selection score and the evidence count into the
// final [0,1] confidence.
func confidence(mmrScore float64, evidenceCount int) float64 {
	norm := vecmath.Clip01((mmrScore + 0.5) / 1.2)
	boost := math.Log(1+float64(evidenceCount)) / 10
	if boost > 0.3 {
		boost = 0.3
	}
	return math.Min(1, norm+boost)
}
