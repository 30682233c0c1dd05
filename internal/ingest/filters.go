// Package ingest drives one creator through the ingestion pipeline: metadata
// listing, filtering, download, transcription, topic extraction, vector
// indexing, and the account-level aggregation that follows.
package ingest

import (
	"errors"
	"time"

	"github.com/MrWong99/reelsonar/pkg/faults"
	"github.com/MrWong99/reelsonar/pkg/types"
)

// dateLayout is the wire format for filter date bounds.
const dateLayout = "2006-01-02"

// Filters narrows the video set before and during processing. The zero value
// keeps everything.
type Filters struct {
	// LastNVideos keeps only the N most recent videos. Zero keeps all.
	LastNVideos int `json:"last_n_videos,omitempty"`

	// HistoryStart and HistoryEnd select a positional slice of the
	// metadata list, both in [0,1] with start ≤ end. The list is ordered
	// newest first, so 0 is the most recent video. Nil means unbounded.
	HistoryStart *float64 `json:"history_start,omitempty"`
	HistoryEnd   *float64 `json:"history_end,omitempty"`

	// DateFrom and DateTo bound the upload date, inclusive, formatted
	// 2006-01-02. Videos without a known upload date pass.
	DateFrom string `json:"date_from,omitempty"`
	DateTo   string `json:"date_to,omitempty"`

	// RequiredCategory skips creators whose stored category differs.
	// Creators without a stored category pass: the filter is evaluated
	// lazily, only once a category is known.
	RequiredCategory string `json:"required_category,omitempty"`

	// RequiredTags retains only videos whose extracted topics contain at
	// least one of these tags. Applied after topic extraction as a
	// post-filter on vector indexing, never as a download gate.
	RequiredTags []string `json:"required_tags,omitempty"`

	// OnlyWithSpeech skips videos whose transcript falls below the minimum
	// speech length. This is the pipeline default already; the flag exists
	// so callers can state it explicitly.
	OnlyWithSpeech bool `json:"only_with_speech,omitempty"`
}

// Validate checks filter bounds. All violations are reported together.
func (f Filters) Validate() error {
	var errs []error
	if f.LastNVideos < 0 {
		errs = append(errs, errors.New("last_n_videos must not be negative"))
	}
	if f.HistoryStart != nil && (*f.HistoryStart < 0 || *f.HistoryStart > 1) {
		errs = append(errs, errors.New("history_start must be in [0,1]"))
	}
	if f.HistoryEnd != nil && (*f.HistoryEnd < 0 || *f.HistoryEnd > 1) {
		errs = append(errs, errors.New("history_end must be in [0,1]"))
	}
	if f.HistoryStart != nil && f.HistoryEnd != nil && *f.HistoryStart > *f.HistoryEnd {
		errs = append(errs, errors.New("history_start must not exceed history_end"))
	}
	for _, d := range []struct{ name, val string }{
		{"date_from", f.DateFrom},
		{"date_to", f.DateTo},
	} {
		if d.val == "" {
			continue
		}
		if _, err := time.Parse(dateLayout, d.val); err != nil {
			errs = append(errs, errors.New(d.name+" must be formatted "+dateLayout))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return faults.Wrap(faults.Validation, "ingest: filters", err)
	}
	return nil
}

// Prefilter applies the positional and date filters to the metadata list
// (ordered newest first, as the source provider returns it). Tag, category,
// and speech filters act later in the pipeline.
func (f Filters) Prefilter(videos []types.VideoMeta) []types.VideoMeta {
	out := videos

	if f.HistoryStart != nil || f.HistoryEnd != nil {
		start, end := 0.0, 1.0
		if f.HistoryStart != nil {
			start = *f.HistoryStart
		}
		if f.HistoryEnd != nil {
			end = *f.HistoryEnd
		}
		lo := int(start * float64(len(out)))
		hi := int(end * float64(len(out)))
		if hi > len(out) {
			hi = len(out)
		}
		if lo > hi {
			lo = hi
		}
		out = out[lo:hi]
	}

	if f.LastNVideos > 0 && len(out) > f.LastNVideos {
		out = out[:f.LastNVideos]
	}

	if f.DateFrom != "" || f.DateTo != "" {
		from, _ := time.Parse(dateLayout, f.DateFrom)
		to, _ := time.Parse(dateLayout, f.DateTo)
		kept := make([]types.VideoMeta, 0, len(out))
		for _, v := range out {
			if v.UploadDate.IsZero() {
				kept = append(kept, v)
				continue
			}
			d := v.UploadDate.UTC().Truncate(24 * time.Hour)
			if f.DateFrom != "" && d.Before(from) {
				continue
			}
			if f.DateTo != "" && d.After(to) {
				continue
			}
			kept = append(kept, v)
		}
		out = kept
	}

	return out
}

// Settings tunes how retained videos are processed.
type Settings struct {
	// WhisperMode selects the transcriber capacity tier. Empty means
	// balanced.
	WhisperMode string `json:"whisper_mode,omitempty"`

	// SkipExisting gates already-processed videos out of the run. Nil
	// defaults to true.
	SkipExisting *bool `json:"skip_existing,omitempty"`

	// RetranscribeLowConfidence re-drives already-processed videos whose
	// stored transcript confidence is below [LowConfidenceThreshold].
	RetranscribeLowConfidence bool `json:"retranscribe_low_confidence,omitempty"`

	// MaxDurationMinutes hard-skips videos longer than this. Zero means
	// no limit.
	MaxDurationMinutes float64 `json:"max_duration_minutes,omitempty"`
}

// LowConfidenceThreshold is the stored-confidence floor below which
// RetranscribeLowConfidence re-drives a processed video.
const LowConfidenceThreshold = 0.6

// Validate checks the settings.
func (s Settings) Validate() error {
	var errs []error
	switch types.CapacityTier(s.WhisperMode) {
	case "", types.TierFast, types.TierBalanced, types.TierAccurate, types.TierUltra:
	default:
		errs = append(errs, errors.New("whisper_mode must be one of fast, balanced, accurate, ultra"))
	}
	if s.MaxDurationMinutes < 0 {
		errs = append(errs, errors.New("max_duration_minutes must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return faults.Wrap(faults.Validation, "ingest: settings", err)
	}
	return nil
}

// Tier returns the transcriber capacity tier for these settings.
func (s Settings) Tier() types.CapacityTier {
	if s.WhisperMode == "" {
		return types.TierBalanced
	}
	return types.CapacityTier(s.WhisperMode)
}

// SkipExistingEnabled resolves the tri-state SkipExisting flag.
func (s Settings) SkipExistingEnabled() bool {
	return s.SkipExisting == nil || *s.SkipExisting
}
