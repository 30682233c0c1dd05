package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Rule file names resolved relative to the config dir.
const (
	StopPhrasesFile     = "stop_phrases.txt"
	CanonicalTopicsFile = "canonical_topics.json"
)

// DefaultAutoMerge is used when canonical_topics.json is absent or leaves
// the thresholds unset.
var DefaultAutoMerge = AutoMergeThreshold{Cosine: 0.9, EditDistanceMax: 2}

// AutoMergeThreshold controls when two topics merge without an explicit rule:
// either their embeddings are at least Cosine similar, or their surface forms
// are within EditDistanceMax edits of each other.
type AutoMergeThreshold struct {
	Cosine          float64 `json:"cosine"`
	EditDistanceMax int     `json:"edit_distance_max"`
}

// Rules is an immutable snapshot of the topic-rule files. Extraction runs
// hold one snapshot for their whole run, so a reload never changes the rules
// under an in-flight extraction. The zero value behaves like an empty rule
// set with the default auto-merge thresholds.
type Rules struct {
	stopPhrases map[string]struct{}
	mergeRules  map[string]string
	autoMerge   AutoMergeThreshold
}

// NewRules builds a snapshot from in-memory rule data. Phrases and rule keys
// are lowercased and trimmed; zero-valued thresholds fall back to
// [DefaultAutoMerge]. Useful for tests and embedded defaults.
func NewRules(stopPhrases []string, mergeRules map[string]string, autoMerge AutoMergeThreshold) *Rules {
	r := &Rules{
		stopPhrases: make(map[string]struct{}, len(stopPhrases)),
		mergeRules:  make(map[string]string, len(mergeRules)),
		autoMerge:   autoMerge,
	}
	for _, p := range stopPhrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			r.stopPhrases[p] = struct{}{}
		}
	}
	for raw, canonical := range mergeRules {
		raw = strings.ToLower(strings.TrimSpace(raw))
		canonical = strings.ToLower(strings.TrimSpace(canonical))
		if raw != "" && canonical != "" {
			r.mergeRules[raw] = canonical
		}
	}
	if r.autoMerge.Cosine == 0 {
		r.autoMerge.Cosine = DefaultAutoMerge.Cosine
	}
	if r.autoMerge.EditDistanceMax == 0 {
		r.autoMerge.EditDistanceMax = DefaultAutoMerge.EditDistanceMax
	}
	return r
}

// LoadRules reads the rule files from dir. Missing files yield an empty rule
// set rather than an error, so a fresh install works without any rules.
// A present-but-unparseable canonical_topics.json is an error; callers doing
// hot reload should keep their previous snapshot in that case.
func LoadRules(dir string) (*Rules, error) {
	stopData, err := readRuleFile(filepath.Join(dir, StopPhrasesFile))
	if err != nil {
		return nil, err
	}
	canonData, err := readRuleFile(filepath.Join(dir, CanonicalTopicsFile))
	if err != nil {
		return nil, err
	}
	return parseRules(stopData, canonData)
}

// readRuleFile reads path, mapping a missing file to nil data.
func readRuleFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	return data, nil
}

// parseRules builds a snapshot from raw file contents. Either argument may
// be nil for a missing file.
func parseRules(stopData, canonData []byte) (*Rules, error) {
	stop := parseStopPhrases(stopData)

	var merge map[string]string
	var auto AutoMergeThreshold
	if len(canonData) > 0 {
		var file struct {
			MergeRules map[string]string  `json:"merge_rules"`
			AutoMerge  AutoMergeThreshold `json:"auto_merge_threshold"`
		}
		if err := json.Unmarshal(canonData, &file); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", CanonicalTopicsFile, err)
		}
		if file.AutoMerge.Cosine < 0 || file.AutoMerge.Cosine > 1 {
			return nil, fmt.Errorf("config: %s: auto_merge_threshold.cosine %.2f is out of range [0, 1]", CanonicalTopicsFile, file.AutoMerge.Cosine)
		}
		if file.AutoMerge.EditDistanceMax < 0 {
			return nil, fmt.Errorf("config: %s: auto_merge_threshold.edit_distance_max %d must not be negative", CanonicalTopicsFile, file.AutoMerge.EditDistanceMax)
		}
		merge = file.MergeRules
		auto = file.AutoMerge
	}

	return NewRules(stop, merge, auto), nil
}

// parseStopPhrases splits newline-separated phrases, trimming and skipping
// blank lines.
func parseStopPhrases(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	var phrases []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			phrases = append(phrases, line)
		}
	}
	return phrases
}

// IsStopPhrase reports whether phrase (case-insensitive) is filtered out of
// topic candidates.
func (r *Rules) IsStopPhrase(phrase string) bool {
	_, ok := r.stopPhrases[strings.ToLower(strings.TrimSpace(phrase))]
	return ok
}

// MergeTarget returns the canonical form an explicit merge rule maps raw to,
// if one exists.
func (r *Rules) MergeTarget(raw string) (string, bool) {
	canonical, ok := r.mergeRules[strings.ToLower(strings.TrimSpace(raw))]
	return canonical, ok
}

// AutoMerge returns the thresholds for rule-free merging.
func (r *Rules) AutoMerge() AutoMergeThreshold {
	if r.autoMerge == (AutoMergeThreshold{}) {
		return DefaultAutoMerge
	}
	return r.autoMerge
}

// StopPhraseCount returns the number of loaded stop phrases (for logging).
func (r *Rules) StopPhraseCount() int { return len(r.stopPhrases) }

// MergeRuleCount returns the number of loaded merge rules (for logging).
func (r *Rules) MergeRuleCount() int { return len(r.mergeRules) }
