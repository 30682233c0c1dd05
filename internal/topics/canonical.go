package topics

import (
	"github.com/antzucaro/matchr"

	"github.com/MrWong99/reelsonar/internal/config"
	"github.com/MrWong99/reelsonar/internal/vecmath"
)

// Canonicalizer folds raw topics into canonical forms. Explicit merge rules
// from the rule snapshot win; otherwise a raw topic merges into the first
// already-chosen canonical within the auto-merge thresholds (embedding
// cosine OR edit distance), and failing that becomes a new canonical
// itself.
//
// The canonical set accumulates in resolution order, so for a fixed rule
// snapshot and a fixed input sequence the mapping raw → canonical is total
// and deterministic. Not safe for concurrent use; create one per video.
type Canonicalizer struct {
	rules   *config.Rules
	names   []string
	vecs    [][]float32
	present map[string]int
}

// NewCanonicalizer returns an empty canonicalizer bound to a rule snapshot.
func NewCanonicalizer(rules *config.Rules) *Canonicalizer {
	return &Canonicalizer{rules: rules, present: make(map[string]int)}
}

// Resolve maps one raw topic (with its embedding) to its canonical form,
// growing the canonical set when nothing merges.
func (c *Canonicalizer) Resolve(raw string, vec []float32) string {
	if target, ok := c.rules.MergeTarget(raw); ok {
		c.register(target, vec)
		return target
	}

	auto := c.rules.AutoMerge()
	for i, name := range c.names {
		if vecmath.Cosine(vec, c.vecs[i]) >= auto.Cosine {
			return name
		}
		if matchr.Levenshtein(raw, name) <= auto.EditDistanceMax {
			return name
		}
	}

	c.register(raw, vec)
	return raw
}

// Canonicals returns the canonical names in first-seen order.
func (c *Canonicalizer) Canonicals() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// register adds name to the canonical set unless already present. The first
// embedding seen for a canonical represents it in later cosine checks.
func (c *Canonicalizer) register(name string, vec []float32) {
	if _, ok := c.present[name]; ok {
		return
	}
	c.present[name] = len(c.names)
	c.names = append(c.names, name)
	c.vecs = append(c.vecs, vec)
}
