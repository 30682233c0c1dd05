package transcript

import (
	"strings"
	"unicode"

	"github.com/MrWong99/reelsonar/pkg/types"
)

// abbreviations lists lowercase tokens whose trailing period does not end a
// sentence. Matching happens on the token immediately before the period,
// lowercased, with internal periods kept ("e.g" covers "e.g.").
var abbreviations = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {},
	"sr": {}, "jr": {}, "st": {}, "vs": {}, "etc": {},
	"no": {}, "vol": {}, "approx": {}, "min": {}, "max": {},
	"e.g": {}, "i.e": {}, "u.s": {}, "a.m": {}, "p.m": {},
}

// SplitSentences splits text into trimmed sentences.
//
// A sentence ends at '.', '!' or '?' (runs of terminators and any closing
// quotes or brackets stay attached), or at a line break — caption text often
// carries no punctuation at all. Periods inside decimal numbers, after known
// abbreviations, and after single-letter initials do not terminate. A
// trailing fragment without a terminator is kept as a final sentence.
func SplitSentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0

	flush := func(end int) {
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			out = append(out, s)
		}
		start = end
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '\n' {
			flush(i)
			continue
		}
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if r == '.' && !periodTerminates(runes, i) {
			continue
		}
		end := i + 1
		for end < len(runes) && isTerminatorTail(runes[end]) {
			end++
		}
		flush(end)
		i = end - 1
	}
	flush(len(runes))
	return out
}

// periodTerminates decides whether the period at runes[i] ends a sentence.
func periodTerminates(runes []rune, i int) bool {
	// Decimal numbers: digit on both sides.
	if i > 0 && i+1 < len(runes) && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
		return false
	}
	// Word immediately before the period.
	j := i
	for j > 0 && !unicode.IsSpace(runes[j-1]) {
		j--
	}
	word := strings.ToLower(string(runes[j:i]))
	word = strings.TrimLeft(word, `"'([{`)
	if _, ok := abbreviations[word]; ok {
		return false
	}
	// Initials: "J. Doe".
	if rs := []rune(word); len(rs) == 1 && unicode.IsLetter(rs[0]) {
		return false
	}
	return true
}

// isTerminatorTail reports whether r may trail a sentence terminator without
// starting a new sentence.
func isTerminatorTail(r rune) bool {
	switch r {
	case '.', '!', '?', '"', '\'', ')', ']', '”', '’':
		return true
	}
	return false
}

// SentencesFor splits body and maps the result onto the provider segments.
// It is the standard way to produce the sentence list for a fresh artifact.
// Without segments it falls back to zero timings.
func SentencesFor(body string, segments []types.Segment) []types.Sentence {
	if len(segments) == 0 {
		return ProportionalSentences(body, 0)
	}
	return MapToSegments(SplitSentences(body), segments)
}

// MapToSegments assigns start and end times to sentences by distributing the
// segment timeline proportional to character counts. The sentence text need
// not equal the segment text byte for byte — correction may have altered it —
// only the proportions matter. Returned sentences are indexed contiguously
// from zero and each satisfies StartSec ≤ EndSec.
func MapToSegments(sentences []string, segments []types.Segment) []types.Sentence {
	out := make([]types.Sentence, 0, len(sentences))
	if len(sentences) == 0 {
		return out
	}

	clock := newCharClock(segments)

	total := 0
	for _, s := range sentences {
		total += len(s)
	}
	if total == 0 {
		total = 1
	}

	cum := 0
	for i, s := range sentences {
		startFrac := float64(cum) / float64(total)
		cum += len(s)
		endFrac := float64(cum) / float64(total)
		start := clock.at(startFrac)
		end := clock.at(endFrac)
		if end < start {
			end = start
		}
		out = append(out, types.Sentence{Index: i, StartSec: start, EndSec: end, Text: s})
	}
	return out
}

// ProportionalSentences derives sentences from a bare text body, spreading
// timings uniformly by character share over totalSec. This is the legacy
// fallback for bodies that carry no cue timings; a zero totalSec yields zero
// timings.
func ProportionalSentences(body string, totalSec float64) []types.Sentence {
	parts := SplitSentences(body)
	out := make([]types.Sentence, 0, len(parts))
	if len(parts) == 0 {
		return out
	}

	total := 0
	for _, p := range parts {
		total += len(p)
	}
	if total == 0 {
		total = 1
	}

	cum := 0
	for i, p := range parts {
		start := totalSec * float64(cum) / float64(total)
		cum += len(p)
		end := totalSec * float64(cum) / float64(total)
		out = append(out, types.Sentence{Index: i, StartSec: start, EndSec: end, Text: p})
	}
	return out
}

// charClock maps a character-count fraction onto the segment timeline. Each
// segment owns a share of the character axis proportional to its text length
// and maps it linearly onto [StartSec, EndSec].
type charClock struct {
	segs   []types.Segment
	bounds []float64 // cumulative char fractions, len(segs)+1
}

func newCharClock(segments []types.Segment) charClock {
	c := charClock{segs: segments}
	if len(segments) == 0 {
		return c
	}
	total := 0
	for _, sg := range segments {
		total += max(len(sg.Text), 1)
	}
	c.bounds = make([]float64, len(segments)+1)
	cum := 0
	for i, sg := range segments {
		cum += max(len(sg.Text), 1)
		c.bounds[i+1] = float64(cum) / float64(total)
	}
	return c
}

// at converts a char fraction in [0,1] to seconds.
func (c charClock) at(frac float64) float64 {
	if len(c.segs) == 0 {
		return 0
	}
	if frac <= 0 {
		return c.segs[0].StartSec
	}
	if frac >= 1 {
		return c.segs[len(c.segs)-1].EndSec
	}
	// Segment counts per video are small; a linear scan is fine.
	for i := range c.segs {
		lo, hi := c.bounds[i], c.bounds[i+1]
		if frac <= hi {
			span := hi - lo
			if span <= 0 {
				return c.segs[i].StartSec
			}
			p := (frac - lo) / span
			return c.segs[i].StartSec + p*(c.segs[i].EndSec-c.segs[i].StartSec)
		}
	}
	return c.segs[len(c.segs)-1].EndSec
}
