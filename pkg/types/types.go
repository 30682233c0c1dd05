// Package types defines the shared types used across all ReelSonar packages.
//
// These types form the lingua franca between providers, the ingestion
// pipeline, the topic engine, and the search layer. They are intentionally
// minimal — each package defines its own domain types, but cross-cutting data
// structures live here to avoid circular imports. Types that appear in
// persisted artifacts or on the HTTP surface carry JSON tags; field names in
// artifacts are stable and must not change without a migration path.
package types

import (
	"strings"
	"time"
)

// VideoMeta describes one video as reported by the platform source provider.
// It is the unit the pipeline filters on before any download happens.
type VideoMeta struct {
	// ID is the platform's opaque video identifier, unique within a creator.
	ID string `json:"video_id"`

	// Title is the video caption or title as published.
	Title string `json:"title"`

	// URL is the canonical watch URL.
	URL string `json:"url"`

	// DurationSec is the video length in seconds. Zero when the platform
	// does not report it.
	DurationSec float64 `json:"duration_sec"`

	// UploadDate is when the video was published (UTC). Zero when unknown.
	UploadDate time.Time `json:"upload_date,omitzero"`

	// Hashtags holds the raw hashtag strings attached to the video, without
	// the leading '#'. May be empty.
	Hashtags []string `json:"hashtags,omitempty"`
}

// Segment is a contiguous span of transcribed speech with timings, as
// produced by the transcriber provider. Segments are provider-determined and
// usually coarser than sentences.
type Segment struct {
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
	Text     string  `json:"text"`
}

// Transcript is the result of one batch transcription call.
type Transcript struct {
	// Text is the full transcribed speech content.
	Text string `json:"text"`

	// Segments are the provider's timed spans, ordered by StartSec.
	Segments []Segment `json:"segments"`

	// Language is the detected (or forced) BCP-47 language code.
	Language string `json:"language"`

	// Confidence is the provider's mean confidence in [0,1]. Zero when the
	// provider does not report confidence.
	Confidence float64 `json:"confidence"`

	// ModelID identifies the model that produced this transcript.
	ModelID string `json:"model_id"`
}

// Sentence is one sentence of a transcript with derived timings.
// Indices are contiguous from 0 and StartSec ≤ EndSec always holds.
type Sentence struct {
	Index    int     `json:"index"`
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
	Text     string  `json:"text"`
}

// TopicSource identifies where a topic candidate surfaced.
type TopicSource string

const (
	SourceTranscript TopicSource = "transcript"
	SourceTitle      TopicSource = "title"
	SourceHashtag    TopicSource = "hashtag"
)

// Evidence ties a topic to one supporting sentence of the same video.
type Evidence struct {
	SentenceIndex int     `json:"sentence_index"`
	StartSec      float64 `json:"start_sec"`
	EndSec        float64 `json:"end_sec"`
	Text          string  `json:"text"`
}

// TopicStats carries per-topic extraction diagnostics.
type TopicStats struct {
	// DistinctSentences is the number of distinct sentences that support
	// this topic (equals len(Evidence) after truncation to the cap).
	DistinctSentences int `json:"distinct_sentences"`

	// MMRScore is the marginal-relevance score at the moment of selection.
	MMRScore float64 `json:"mmr_score"`
}

// TopicRecord is one extracted topic for one video — the V2 tag schema.
// Every record carries at least one Evidence entry drawn from that video's
// own sentence list.
type TopicRecord struct {
	// Tag is the raw surface phrase as extracted.
	Tag string `json:"tag"`

	// Canonical is the merged form after rule and similarity merging.
	Canonical string `json:"canonical"`

	// ScoreMMR is the selection score (λ-weighted relevance minus redundancy).
	ScoreMMR float64 `json:"score_mmr"`

	// Confidence is the final confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// Evidence lists up to five supporting sentences.
	Evidence []Evidence `json:"evidence"`

	// Source records where the candidate surfaced.
	Source TopicSource `json:"source"`

	Stats TopicStats `json:"stats"`
}

// AccountTagAggregate is one canonical topic rolled up across all of a
// creator's videos.
type AccountTagAggregate struct {
	Canonical string `json:"canonical"`

	// Frequency is the number of videos the canonical topic appears in.
	Frequency int `json:"frequency"`

	AvgScore float64 `json:"avg_score"`

	// CombinedScore = Frequency × AvgScore × EngagementWeight.
	CombinedScore float64 `json:"combined_score"`

	// EngagementWeight is fixed at 1.0 until an engagement data source
	// exists; the field stays in the schema so stored aggregates do not
	// change shape when one does.
	EngagementWeight float64 `json:"engagement_weight"`

	VideoIDs []string `json:"video_ids"`
}

// CategoryAssignment maps a creator to one entry of the closed category set.
// Category always equals the argmax of AllScores.
type CategoryAssignment struct {
	Category   string             `json:"category"`
	Confidence float64            `json:"confidence"`
	AllScores  map[string]float64 `json:"all_scores"`
	AssignedAt time.Time          `json:"assigned_at"`
}

// UmbrellaCluster is one labelled community of canonical topics.
// Members form a single connected component of the similarity graph at the
// threshold the cluster was built with.
type UmbrellaCluster struct {
	ID             int      `json:"id"`
	Label          string   `json:"label"`
	Members        []string `json:"members"`
	MemberCount    int      `json:"member_count"`
	TotalFrequency int      `json:"total_frequency"`
	AvgCoherence   float64  `json:"avg_coherence"`
	VideoIDs       []string `json:"video_ids"`
}

// CapacityTier selects a transcriber capacity level. Tiers map 1:1 to the
// job setting `whisper_mode`.
type CapacityTier string

const (
	// TierFast favours throughput over accuracy (smallest model).
	TierFast CapacityTier = "fast"

	// TierBalanced is the default trade-off.
	TierBalanced CapacityTier = "balanced"

	// TierAccurate favours accuracy at reduced throughput.
	TierAccurate CapacityTier = "accurate"

	// TierUltra is the highest-accuracy tier (largest model).
	TierUltra CapacityTier = "ultra"
)

// IsValid reports whether t is a recognised capacity tier.
func (t CapacityTier) IsValid() bool {
	switch t {
	case TierFast, TierBalanced, TierAccurate, TierUltra:
		return true
	}
	return false
}

// String returns the tier's wire name.
func (t CapacityTier) String() string { return string(t) }

// NormalizeHandle canonicalises a creator handle: surrounding whitespace and
// a leading '@' are stripped and the result is lowercased. All storage paths
// and lookups key on the normalised form.
func NormalizeHandle(handle string) string {
	h := strings.TrimSpace(handle)
	h = strings.TrimPrefix(h, "@")
	return strings.ToLower(h)
}

// FormatTimestamp renders a non-negative second offset as the external
// MM:SS form. Offsets of an hour or more extend the minute field (e.g.
// "75:04") — the upstream platform caps videos well below that in practice.
func FormatTimestamp(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	total := int(sec + 0.5)
	return pad2(total/60) + ":" + pad2(total%60)
}

// ParseTimestamp parses an external MM:SS string into float seconds.
// Returns false when the input is not of the MM:SS form.
func ParseTimestamp(s string) (float64, bool) {
	var m, sec int
	var seen int
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			seen++
			if seen > 1 {
				return 0, false
			}
			continue
		}
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
		if seen == 0 {
			m = m*10 + int(s[i]-'0')
		} else {
			sec = sec*10 + int(s[i]-'0')
		}
	}
	if seen != 1 || len(s) < 3 || sec > 59 {
		return 0, false
	}
	return float64(m*60 + sec), true
}

func pad2(n int) string {
	if n < 10 {
		return string([]byte{'0', byte('0' + n)})
	}
	// Build without fmt to keep this allocation-light on the search hot path.
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
