package correct

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// MatcherOption configures a [Matcher].
type MatcherOption func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for accepting a
// candidate that passed the phonetic filter. Default: 0.70.
func WithPhoneticThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for the pure
// string-similarity fallback used when nothing passes the phonetic filter.
// Default: 0.85.
func WithFuzzyThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Matcher aligns transcribed phrases with vocabulary terms. Candidates are
// filtered by Double Metaphone code overlap and ranked by Jaro-Winkler
// similarity; when no candidate passes the phonetic filter, a stricter pure
// Jaro-Winkler pass runs instead. Read-only after construction and safe for
// concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewMatcher returns a Matcher with the default thresholds.
func NewMatcher(opts ...MatcherOption) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// vocabTerm is one prepared vocabulary entry.
type vocabTerm struct {
	display string // term as supplied, returned on match
	lower   string
	tokens  []string
	codes   map[string]struct{}
}

// Vocab is a vocabulary prepared for repeated matching: lowercased token
// lists and Double Metaphone codes are computed once. Prepare once per
// transcript and reuse across every window comparison.
type Vocab struct {
	terms    []vocabTerm
	maxWords int
}

// PrepareVocab builds a [Vocab] from raw terms. Blank terms are dropped.
func PrepareVocab(terms []string) *Vocab {
	v := &Vocab{terms: make([]vocabTerm, 0, len(terms))}
	for _, t := range terms {
		lower := strings.ToLower(strings.TrimSpace(t))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		v.terms = append(v.terms, vocabTerm{
			display: strings.TrimSpace(t),
			lower:   lower,
			tokens:  tokens,
			codes:   codesForTokens(tokens),
		})
		if len(tokens) > v.maxWords {
			v.maxWords = len(tokens)
		}
	}
	return v
}

// MaxWords returns the token count of the longest term, zero for an empty
// vocabulary. The corrector uses it to bound its n-gram window size.
func (v *Vocab) MaxWords() int { return v.maxWords }

// Len returns the number of usable terms.
func (v *Vocab) Len() int { return len(v.terms) }

// Match attempts to align phrase with the most similar vocabulary term.
//
// phrase may be a single word or a space-separated n-gram. When matched is
// false, term equals phrase unchanged and confidence is 0. A phonetically
// filtered candidate needs a Jaro-Winkler score of at least the phonetic
// threshold; without code overlap the stricter fuzzy threshold applies.
func (m *Matcher) Match(phrase string, v *Vocab) (term string, confidence float64, matched bool) {
	if v == nil || len(v.terms) == 0 || strings.TrimSpace(phrase) == "" {
		return phrase, 0, false
	}

	phraseLower := strings.ToLower(strings.TrimSpace(phrase))
	phraseTokens := strings.Fields(phraseLower)
	phraseCodes := codesForTokens(phraseTokens)

	type candidate struct {
		term     string
		score    float64
		phonetic bool
	}
	var best candidate

	for _, vt := range v.terms {
		phoneticMatch := codesOverlap(phraseCodes, vt.codes)
		jw := bestSimilarity(phraseTokens, vt.tokens, phraseLower, vt.lower)

		if phoneticMatch {
			if jw >= m.phoneticThreshold && (!best.phonetic || jw > best.score) {
				best = candidate{term: vt.display, score: jw, phonetic: true}
			}
		} else if !best.phonetic && jw >= m.fuzzyThreshold && jw > best.score {
			best = candidate{term: vt.display, score: jw, phonetic: false}
		}
	}

	if best.term != "" {
		return best.term, best.score, true
	}
	return phrase, 0, false
}

// codesForTokens returns the union of Double Metaphone codes over tokens.
// Empty codes (word too short, no consonants) are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestSimilarity computes the highest Jaro-Winkler score between phrase and
// term across two views: the full strings and the space-stripped strings.
// The second view keeps multi-word terms comparable with transcriptions that
// split or join words differently ("kombu cha" vs "kombucha").
//
// Per-token pairwise scoring is deliberately not used: with n-gram windows
// it would let a single shared token hijack the whole window.
func bestSimilarity(phraseTokens, termTokens []string, phraseFull, termFull string) float64 {
	score := matchr.JaroWinkler(phraseFull, termFull, false)

	if len(phraseTokens) > 1 || len(termTokens) > 1 {
		concatPhrase := strings.Join(phraseTokens, "")
		concatTerm := strings.Join(termTokens, "")
		if s := matchr.JaroWinkler(concatPhrase, concatTerm, false); s > score {
			score = s
		}
	}

	return score
}
