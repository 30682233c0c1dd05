package topics

import (
	"sort"
	"strings"

	"github.com/MrWong99/reelsonar/internal/vecmath"
	"github.com/MrWong99/reelsonar/pkg/types"
)

const (
	evidenceCap          = 5
	evidenceSimThreshold = 0.45
)

// findEvidence collects up to evidenceCap supporting sentences for a topic.
// Lexical matches come first in sentence order: a sentence supports the
// topic when it contains the raw tag or the canonical form as a substring
// (case-insensitive). Remaining slots fill with the most similar sentence
// embeddings at or above the similarity threshold, best first.
//
// sentVecs may be shorter than sentences (or nil) when sentence embeddings
// are unavailable; similarity backfill then covers only the embedded prefix.
func findEvidence(tag, canonical string, topicVec []float32, sentences []types.Sentence, sentVecs [][]float32) []types.Evidence {
	if len(sentences) == 0 {
		return nil
	}

	needles := []string{tag}
	if canonical != tag && canonical != "" {
		needles = append(needles, canonical)
	}

	var out []types.Evidence
	used := make(map[int]bool, evidenceCap)

	for i, s := range sentences {
		if len(out) == evidenceCap {
			return out
		}
		lower := strings.ToLower(s.Text)
		for _, needle := range needles {
			if needle != "" && strings.Contains(lower, needle) {
				out = append(out, evidenceFor(s))
				used[i] = true
				break
			}
		}
	}

	if len(out) == evidenceCap {
		return out
	}

	type scoredSentence struct {
		index int
		sim   float64
	}
	var scored []scoredSentence
	for i := range sentVecs {
		if i >= len(sentences) || used[i] {
			continue
		}
		if sim := vecmath.Cosine(topicVec, sentVecs[i]); sim >= evidenceSimThreshold {
			scored = append(scored, scoredSentence{index: i, sim: sim})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].sim != scored[j].sim {
			return scored[i].sim > scored[j].sim
		}
		return scored[i].index < scored[j].index
	})

	for _, sc := range scored {
		if len(out) == evidenceCap {
			break
		}
		out = append(out, evidenceFor(sentences[sc.index]))
	}

	return out
}

func evidenceFor(s types.Sentence) types.Evidence {
	return types.Evidence{
		SentenceIndex: s.Index,
		StartSec:      s.StartSec,
		EndSec:        s.EndSec,
		Text:          s.Text,
	}
}
