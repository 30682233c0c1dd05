package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/MrWong99/reelsonar/pkg/types"
)

// decode parses raw artifact bytes. JSON is the native schema; WebVTT, SRT
// and bare text are accepted for artifacts that predate it.
func decode(data []byte) (*Artifact, error) {
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(data, []byte("\ufeff")))
	switch {
	case len(trimmed) > 0 && trimmed[0] == '{':
		var art Artifact
		if err := json.Unmarshal(trimmed, &art); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		if art.Sentences == nil {
			art.Sentences = []types.Sentence{}
		}
		return &art, nil
	case bytes.HasPrefix(trimmed, []byte("WEBVTT")):
		segs, err := parseWebVTT(string(trimmed))
		if err != nil {
			return nil, err
		}
		return legacyArtifact(segs), nil
	case looksLikeSRT(string(trimmed)):
		segs, err := parseSRT(string(trimmed))
		if err != nil {
			return nil, err
		}
		return legacyArtifact(segs), nil
	default:
		body := strings.TrimSpace(string(trimmed))
		return &Artifact{
			Body:      body,
			Sentences: ProportionalSentences(body, 0),
		}, nil
	}
}

// legacyArtifact assembles an artifact from parsed subtitle cues.
func legacyArtifact(segs []types.Segment) *Artifact {
	texts := make([]string, 0, len(segs))
	for _, sg := range segs {
		if t := strings.TrimSpace(sg.Text); t != "" {
			texts = append(texts, t)
		}
	}
	body := strings.Join(texts, " ")
	var dur float64
	if len(segs) > 0 {
		dur = segs[len(segs)-1].EndSec
	}
	return &Artifact{
		Header:    Header{DurationSec: dur},
		Body:      body,
		Sentences: SentencesFor(body, segs),
	}
}

// parseWebVTT parses a WebVTT document into timed segments. NOTE, STYLE and
// REGION blocks are skipped; cue settings after the timing line and inline
// voice and styling tags are dropped.
func parseWebVTT(s string) ([]types.Segment, error) {
	lines := splitLines(s)
	if len(lines) == 0 || !strings.HasPrefix(lines[0], "WEBVTT") {
		return nil, fmt.Errorf("decode vtt: missing WEBVTT header")
	}

	var segs []types.Segment
	i := 1
	for i < len(lines) {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			i++
			continue
		}
		if strings.HasPrefix(line, "NOTE") || strings.HasPrefix(line, "STYLE") || strings.HasPrefix(line, "REGION") {
			i = skipBlock(lines, i)
			continue
		}
		// Optional cue identifier line before the timing line.
		if !strings.Contains(line, "-->") {
			i++
			if i >= len(lines) {
				break
			}
			line = strings.TrimSpace(lines[i])
		}
		if !strings.Contains(line, "-->") {
			i = skipBlock(lines, i)
			continue
		}
		start, end, err := parseCueTiming(line, '.')
		if err != nil {
			return nil, fmt.Errorf("decode vtt: %w", err)
		}
		i++
		var text []string
		for i < len(lines) && strings.TrimSpace(lines[i]) != "" {
			text = append(text, stripCueTags(strings.TrimSpace(lines[i])))
			i++
		}
		segs = append(segs, types.Segment{StartSec: start, EndSec: end, Text: strings.Join(text, " ")})
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("decode vtt: no cues")
	}
	return segs, nil
}

// looksLikeSRT reports whether the document opens like a SubRip file: a bare
// cue number followed by a timing line.
func looksLikeSRT(s string) bool {
	lines := splitLines(s)
	if len(lines) < 2 {
		return false
	}
	first := strings.TrimSpace(lines[0])
	if first == "" {
		return false
	}
	if _, err := strconv.Atoi(first); err != nil {
		return false
	}
	return strings.Contains(lines[1], "-->")
}

// parseSRT parses a SubRip document into timed segments.
func parseSRT(s string) ([]types.Segment, error) {
	lines := splitLines(s)
	var segs []types.Segment
	i := 0
	for i < len(lines) {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			i++
			continue
		}
		// Cue number line; tolerate cues that omit it.
		if _, err := strconv.Atoi(line); err == nil {
			i++
			if i >= len(lines) {
				break
			}
			line = strings.TrimSpace(lines[i])
		}
		if !strings.Contains(line, "-->") {
			return nil, fmt.Errorf("decode srt: cue %d: missing timing line", len(segs)+1)
		}
		start, end, err := parseCueTiming(line, ',')
		if err != nil {
			return nil, fmt.Errorf("decode srt: %w", err)
		}
		i++
		var text []string
		for i < len(lines) && strings.TrimSpace(lines[i]) != "" {
			text = append(text, stripCueTags(strings.TrimSpace(lines[i])))
			i++
		}
		segs = append(segs, types.Segment{StartSec: start, EndSec: end, Text: strings.Join(text, " ")})
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("decode srt: no cues")
	}
	return segs, nil
}

// parseCueTiming parses "HH:MM:SS.mmm --> HH:MM:SS.mmm" (WebVTT) or the SRT
// comma variant. Cue settings after the end timestamp are ignored.
func parseCueTiming(line string, millisSep byte) (start, end float64, err error) {
	parts := strings.SplitN(line, "-->", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("bad timing line %q", line)
	}
	startStr := strings.TrimSpace(parts[0])
	endStr := strings.TrimSpace(parts[1])
	if i := strings.IndexByte(endStr, ' '); i >= 0 {
		endStr = endStr[:i]
	}
	if start, err = parseTimecode(startStr, millisSep); err != nil {
		return 0, 0, err
	}
	if end, err = parseTimecode(endStr, millisSep); err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// parseTimecode parses "HH:MM:SS.mmm" or "MM:SS.mmm" into seconds. The
// fractional part is optional and normalised regardless of digit count.
func parseTimecode(s string, millisSep byte) (float64, error) {
	var frac float64
	if i := strings.LastIndexByte(s, millisSep); i >= 0 {
		digits := s[i+1:]
		n, err := strconv.Atoi(digits)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("bad timecode %q", s)
		}
		frac = float64(n) / math.Pow(10, float64(len(digits)))
		s = s[:i]
	}
	fields := strings.Split(s, ":")
	if len(fields) < 2 || len(fields) > 3 {
		return 0, fmt.Errorf("bad timecode %q", s)
	}
	total := 0
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("bad timecode %q", s)
		}
		total = total*60 + n
	}
	return float64(total) + frac, nil
}

// stripCueTags removes inline markup tags (<v Speaker>, <i>, </c>) from cue
// text using a minimal state machine. Not a full parser — subtitle tags do
// not nest in practice.
func stripCueTags(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// skipBlock advances past the block starting at i, up to the next blank line.
func skipBlock(lines []string, i int) int {
	for i < len(lines) && strings.TrimSpace(lines[i]) != "" {
		i++
	}
	return i
}

// splitLines splits on LF, tolerating CRLF.
func splitLines(s string) []string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
