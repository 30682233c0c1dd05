package umbrella

import "github.com/MrWong99/reelsonar/internal/vecmath"

// edge is one weighted half-edge of the similarity graph.
type edge struct {
	to int
	w  float64
}

// graph is an undirected weighted graph over topic indices. It doubles as
// the aggregated supergraph between Louvain levels, hence the self-loop
// weights.
type graph struct {
	n      int
	adj    [][]edge
	selfW  []float64
	degree []float64 // weighted degree incl. 2× self-loop
	m2     float64   // sum of degrees == 2× total edge weight
}

// buildGraph connects every topic pair whose embedding cosine reaches the
// threshold, with the cosine as edge weight.
func buildGraph(vecs [][]float32, threshold float64) *graph {
	n := len(vecs)
	g := &graph{
		n:      n,
		adj:    make([][]edge, n),
		selfW:  make([]float64, n),
		degree: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			w := vecmath.Cosine(vecs[i], vecs[j])
			if w < threshold {
				continue
			}
			g.adj[i] = append(g.adj[i], edge{to: j, w: w})
			g.adj[j] = append(g.adj[j], edge{to: i, w: w})
			g.degree[i] += w
			g.degree[j] += w
			g.m2 += 2 * w
		}
	}
	return g
}

// meanPairwiseCosine is the cluster coherence: the mean cosine over all
// member pairs. Zero for clusters with fewer than two members.
func meanPairwiseCosine(vecs [][]float32, members []int) float64 {
	if len(members) < 2 {
		return 0
	}
	var sum float64
	pairs := 0
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			sum += vecmath.Cosine(vecs[members[i]], vecs[members[j]])
			pairs++
		}
	}
	return sum / float64(pairs)
}
