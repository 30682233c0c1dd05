package topics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/reelsonar/internal/config"
	"github.com/MrWong99/reelsonar/pkg/types"
)

const (
	minPhraseChars = 4
	longTokenRunes = 3
	legacyTagCap   = 20
)

// Candidate is one unique topic candidate mined from a video, with its
// occurrence count across transcript, title and hashtags.
type Candidate struct {
	// Text is the normalised surface form of the first occurrence.
	Text string

	// Source records where the candidate first surfaced.
	Source types.TopicSource

	// Count is the number of occurrences across all sources.
	Count int
}

// LegacyTag is one entry of the frequency-ranked V1 tag schema.
type LegacyTag struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// mineCandidates collects unique topic candidates from the transcript body
// (noun phrases via the NLP port), the video title (same port) and the
// hashtags. Candidates are lowercased, stripped of edge punctuation, and
// filtered: at least 4 characters, at least one token longer than 3 runes,
// and not in the stop-phrase set. Inflection variants collapse onto one
// candidate via the NLP lemma; the first surface form seen is kept.
func (e *Extractor) mineCandidates(ctx context.Context, body string, video types.VideoMeta, rules *config.Rules) ([]Candidate, error) {
	var out []Candidate
	index := make(map[string]int)

	add := func(surface, lemma string, src types.TopicSource) {
		text := normalizePhrase(surface)
		if !keepPhrase(text, rules) {
			return
		}
		key := normalizePhrase(lemma)
		if key == "" {
			key = text
		}
		if i, ok := index[key]; ok {
			out[i].Count++
			return
		}
		index[key] = len(out)
		out = append(out, Candidate{Text: text, Source: src, Count: 1})
	}

	if strings.TrimSpace(body) != "" {
		phrases, err := e.nlp.NounPhrases(ctx, body)
		if err != nil {
			return nil, fmt.Errorf("topics: transcript noun phrases: %w", err)
		}
		for _, p := range phrases {
			add(p.Text, p.Lemma, types.SourceTranscript)
		}
	}

	if strings.TrimSpace(video.Title) != "" {
		phrases, err := e.nlp.NounPhrases(ctx, video.Title)
		if err != nil {
			return nil, fmt.Errorf("topics: title noun phrases: %w", err)
		}
		for _, p := range phrases {
			add(p.Text, p.Lemma, types.SourceTitle)
		}
	}

	for _, h := range video.Hashtags {
		add(strings.TrimPrefix(strings.TrimSpace(h), "#"), "", types.SourceHashtag)
	}

	return out, nil
}

// keepPhrase applies the candidate filters to an already-normalised phrase.
func keepPhrase(text string, rules *config.Rules) bool {
	if utf8.RuneCountInString(text) < minPhraseChars {
		return false
	}
	if !hasLongToken(text) {
		return false
	}
	return !rules.IsStopPhrase(text)
}

// normalizePhrase lowercases s, strips punctuation from token edges, drops
// tokens that become empty, and collapses whitespace to single spaces.
func normalizePhrase(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	kept := fields[:0]
	for _, tok := range fields {
		tok = strings.TrimFunc(tok, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if tok != "" {
			kept = append(kept, tok)
		}
	}
	return strings.Join(kept, " ")
}

// hasLongToken reports whether at least one token has more than
// longTokenRunes runes. Filters out phrases made purely of short filler
// words ("a lot", "it is").
func hasLongToken(text string) bool {
	for _, tok := range strings.Fields(text) {
		if utf8.RuneCountInString(tok) > longTokenRunes {
			return true
		}
	}
	return false
}

// legacyTags ranks candidates by occurrence count for the V1 tag artifact,
// capped at legacyTagCap. Ties break alphabetically so output is stable.
func legacyTags(cands []Candidate) []LegacyTag {
	tags := make([]LegacyTag, len(cands))
	for i, c := range cands {
		tags[i] = LegacyTag{Tag: c.Text, Count: c.Count}
	}
	sort.SliceStable(tags, func(i, j int) bool {
		if tags[i].Count != tags[j].Count {
			return tags[i].Count > tags[j].Count
		}
		return tags[i].Tag < tags[j].Tag
	})
	if len(tags) > legacyTagCap {
		tags = tags[:legacyTagCap]
	}
	return tags
}
