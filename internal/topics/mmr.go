package topics

import "github.com/MrWong99/reelsonar/internal/vecmath"

// Selection is one MMR pick: the candidate index and its marginal-relevance
// score at the moment of selection.
type Selection struct {
	Index int
	Score float64
}

// selectMMR picks at most topK candidates by maximal marginal relevance:
//
//	mmr(c) = λ·cos(c, doc) − (1−λ)·max_{s∈selected} cos(c, s)
//
// The first pick has no redundancy term. Ties break toward the higher
// raw relevance, then toward the earlier candidate, so the selection is
// deterministic for a fixed input order.
func selectMMR(cands [][]float32, doc []float32, lambda float64, topK int) []Selection {
	n := len(cands)
	if n == 0 || topK <= 0 {
		return nil
	}

	relevance := make([]float64, n)
	for i, c := range cands {
		relevance[i] = vecmath.Cosine(c, doc)
	}

	// redundancy[i] tracks max cos(c_i, s) over selected s so far.
	redundancy := make([]float64, n)
	picked := make([]bool, n)

	if topK > n {
		topK = n
	}
	selected := make([]Selection, 0, topK)

	for len(selected) < topK {
		best := -1
		var bestScore, bestRel float64
		for i := 0; i < n; i++ {
			if picked[i] {
				continue
			}
			score := lambda * relevance[i]
			if len(selected) > 0 {
				score -= (1 - lambda) * redundancy[i]
			}
			if best == -1 || score > bestScore || (score == bestScore && relevance[i] > bestRel) {
				best, bestScore, bestRel = i, score, relevance[i]
			}
		}
		if best == -1 {
			break
		}

		picked[best] = true
		selected = append(selected, Selection{Index: best, Score: bestScore})

		for i := 0; i < n; i++ {
			if picked[i] {
				continue
			}
			if sim := vecmath.Cosine(cands[i], cands[best]); sim > redundancy[i] {
				redundancy[i] = sim
			}
		}
	}

	return selected
}
