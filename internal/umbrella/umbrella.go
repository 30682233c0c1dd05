// Package umbrella groups a creator's canonical topics into labelled
// umbrella clusters.
//
// The builder is a pure function of its input: it puts an edge between two
// topics when their embedding cosine reaches the similarity threshold, runs
// community detection over that graph (modularity-maximising by default,
// with a threshold connected-components clusterer as the selectable
// fallback), filters out clusters below the minimum size, scores member
// words to produce a 1–2 word Title Case label, and keeps the largest
// clusters up to the cap. For a fixed input ordering the output is fully
// deterministic; persisting the result is the topic store's concern.
package umbrella

import (
	"sort"

	"github.com/MrWong99/reelsonar/pkg/types"
)

// Method selects the community detection algorithm.
type Method string

const (
	// MethodLouvain is modularity-maximising community detection.
	MethodLouvain Method = "louvain"

	// MethodComponents partitions the thresholded graph into its connected
	// components. Coarser than Louvain but trivially deterministic.
	MethodComponents Method = "components"
)

const (
	defaultThreshold      = 0.7
	defaultMaxUmbrellas   = 5
	defaultMinClusterSize = 2
)

// Topic is one canonical topic with the account-level stats the clusters
// aggregate.
type Topic struct {
	Canonical string
	Frequency int
	VideoIDs  []string
	Vec       []float32
}

// Option configures a [Builder].
type Option func(*Builder)

// WithThreshold sets the minimum cosine similarity for a graph edge.
// Default: 0.7.
func WithThreshold(t float64) Option {
	return func(b *Builder) { b.threshold = t }
}

// WithMaxUmbrellas caps the number of emitted clusters. Default: 5.
func WithMaxUmbrellas(n int) Option {
	return func(b *Builder) { b.maxUmbrellas = n }
}

// WithMinClusterSize drops clusters with fewer members. Default: 2.
func WithMinClusterSize(n int) Option {
	return func(b *Builder) { b.minClusterSize = n }
}

// WithMethod selects the community detection algorithm. Default: Louvain.
func WithMethod(m Method) Option {
	return func(b *Builder) { b.method = m }
}

// Builder clusters canonical topics into umbrellas. Stateless and safe for
// concurrent use.
type Builder struct {
	threshold      float64
	maxUmbrellas   int
	minClusterSize int
	method         Method
}

// NewBuilder returns a Builder with the default parameters.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		threshold:      defaultThreshold,
		maxUmbrellas:   defaultMaxUmbrellas,
		minClusterSize: defaultMinClusterSize,
		method:         MethodLouvain,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Threshold returns the edge threshold, for artifact provenance.
func (b *Builder) Threshold() float64 { return b.threshold }

// Method returns the configured clustering method, for artifact provenance.
func (b *Builder) Method() Method { return b.method }

// Build clusters the topics. Empty input yields an empty, non-nil slice.
// Cluster IDs are the positions in the final ranking.
func (b *Builder) Build(topics []Topic) []types.UmbrellaCluster {
	out := []types.UmbrellaCluster{}
	if len(topics) == 0 {
		return out
	}

	vecs := make([][]float32, len(topics))
	for i, t := range topics {
		vecs[i] = t.Vec
	}
	g := buildGraph(vecs, b.threshold)

	var communities [][]int
	if b.method == MethodComponents {
		communities = componentCommunities(g)
	} else {
		communities = louvainCommunities(g)
	}

	minSize := b.minClusterSize
	if minSize < 1 {
		minSize = 1
	}
	for _, members := range communities {
		if len(members) < minSize {
			continue
		}
		names := make([]string, len(members))
		videos := make(map[string]struct{})
		totalFreq := 0
		for i, idx := range members {
			names[i] = topics[idx].Canonical
			totalFreq += topics[idx].Frequency
			for _, v := range topics[idx].VideoIDs {
				videos[v] = struct{}{}
			}
		}
		ids := make([]string, 0, len(videos))
		for v := range videos {
			ids = append(ids, v)
		}
		sort.Strings(ids)

		out = append(out, types.UmbrellaCluster{
			Label:          makeLabel(names),
			Members:        names,
			MemberCount:    len(members),
			TotalFrequency: totalFreq,
			AvgCoherence:   meanPairwiseCosine(vecs, members),
			VideoIDs:       ids,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].MemberCount != out[j].MemberCount {
			return out[i].MemberCount > out[j].MemberCount
		}
		if out[i].TotalFrequency != out[j].TotalFrequency {
			return out[i].TotalFrequency > out[j].TotalFrequency
		}
		return out[i].Label < out[j].Label
	})
	if b.maxUmbrellas > 0 && len(out) > b.maxUmbrellas {
		out = out[:b.maxUmbrellas]
	}
	for i := range out {
		out[i].ID = i
	}
	return out
}
