package umbrella

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// singleWordCoverage is the member coverage above which one word
	// labels the whole cluster.
	singleWordCoverage = 0.30

	// pairOverlapMax rejects second words whose member set mostly repeats
	// the first word's.
	pairOverlapMax = 0.5
)

// labelStopwords are grammar words that never label a cluster.
var labelStopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "to": {},
	"in": {}, "on": {}, "at": {}, "for": {}, "with": {}, "from": {},
	"my": {}, "your": {}, "our": {}, "their": {}, "this": {}, "that": {},
	"you": {}, "we": {}, "me": {},
	"is": {}, "are": {}, "was": {}, "be": {}, "it": {}, "its": {},
	"how": {}, "what": {}, "why": {}, "when": {},
}

// labelMetaWords are platform filler words that say nothing about content.
var labelMetaWords = map[string]struct{}{
	"video": {}, "videos": {}, "thank": {}, "thanks": {}, "watching": {},
	"watch": {}, "subscribe": {}, "channel": {}, "follow": {}, "like": {},
	"content": {}, "guys": {}, "today": {}, "everyone": {},
}

type labelWord struct {
	word    string
	members map[int]struct{}
}

// makeLabel derives a 1–2 word Title Case label from the cluster members.
// A word's frequency is the number of member topics containing it and its
// coverage that count over the cluster size; words score
// 3·coverage + 0.5·frequency. The top word stands alone when its coverage
// reaches singleWordCoverage, otherwise the best second word with a
// sufficiently different member set joins it.
func makeLabel(members []string) string {
	stats := make(map[string]*labelWord)
	var order []string
	for mi, m := range members {
		for _, w := range strings.Fields(m) {
			if !labelCandidate(w) {
				continue
			}
			s := stats[w]
			if s == nil {
				s = &labelWord{word: w, members: make(map[int]struct{})}
				stats[w] = s
				order = append(order, w)
			}
			s.members[mi] = struct{}{}
		}
	}
	if len(order) == 0 {
		return fallbackLabel(members)
	}

	size := float64(len(members))
	score := func(s *labelWord) float64 {
		freq := float64(len(s.members))
		return 3*freq/size + 0.5*freq
	}
	sort.SliceStable(order, func(i, j int) bool {
		si, sj := score(stats[order[i]]), score(stats[order[j]])
		if si != sj {
			return si > sj
		}
		return order[i] < order[j]
	})

	best := stats[order[0]]
	if float64(len(best.members))/size >= singleWordCoverage {
		return titleCase(best.word)
	}
	for _, w := range order[1:] {
		if memberOverlap(best.members, stats[w].members) < pairOverlapMax {
			return titleCase(best.word + " " + w)
		}
	}
	return titleCase(best.word)
}

// labelCandidate filters out stopwords, meta-words and single characters.
func labelCandidate(w string) bool {
	if utf8.RuneCountInString(w) < 2 {
		return false
	}
	if _, ok := labelStopwords[w]; ok {
		return false
	}
	_, ok := labelMetaWords[w]
	return !ok
}

// memberOverlap is the Jaccard overlap of two member-index sets.
func memberOverlap(a, b map[int]struct{}) float64 {
	inter := 0
	for m := range a {
		if _, ok := b[m]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// fallbackLabel handles clusters whose every word was filtered: the first
// member names the cluster, trimmed to two words.
func fallbackLabel(members []string) string {
	words := strings.Fields(members[0])
	if len(words) > 2 {
		words = words[:2]
	}
	return titleCase(strings.Join(words, " "))
}

// titleCase upper-cases the first rune of every word.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
