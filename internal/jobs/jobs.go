// Package jobs manages ingestion job lifecycles: creation, scheduling under
// a global concurrency cap, cooperative pause/resume/cancel, progress
// aggregation, and crash-recovery snapshots.
package jobs

import (
	"time"

	"github.com/MrWong99/reelsonar/internal/ingest"
)

// Status is the lifecycle state of a job. Running jobs carry the dominant
// phase of the creator currently being processed.
type Status string

const (
	StatusQueued           Status = "queued"
	StatusFetchingMetadata Status = "fetching_metadata"
	StatusFiltering        Status = "filtering"
	StatusDownloading      Status = "downloading"
	StatusTranscribing     Status = "transcribing"
	StatusExtractingTopics Status = "extracting_topics"
	StatusEmbedding        Status = "embedding"
	StatusComplete         Status = "complete"
	StatusFailed           Status = "failed"
	StatusPaused           Status = "paused"
	StatusCancelled        Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// VideoProgress is the per-video progress block of a job snapshot.
type VideoProgress struct {
	VideoID     string     `json:"video_id"`
	Title       string     `json:"title,omitempty"`
	Status      string     `json:"status"`
	Step        string     `json:"step,omitempty"`
	ProgressPct float64    `json:"progress_pct"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// AccountProgress is the per-creator progress block of a job snapshot.
type AccountProgress struct {
	Creator       string          `json:"creator"`
	Status        string          `json:"status"`
	TotalFound    int             `json:"total_found"`
	FilteredCount int             `json:"filtered_count"`
	Processed     int             `json:"processed"`
	Skipped       int             `json:"skipped"`
	Failed        int             `json:"failed"`
	CurrentVideo  string          `json:"current_video,omitempty"`
	Videos        []VideoProgress `json:"videos"`
	Error         string          `json:"error,omitempty"`
}

// Snapshot is a point-in-time copy of a job's full state. Snapshots are what
// pollers, WebSocket subscribers, and the on-disk checkpoint see; they share
// no memory with the live job.
type Snapshot struct {
	JobID           string            `json:"job_id"`
	Creators        []string          `json:"creators"`
	Filters         ingest.Filters    `json:"filters"`
	Settings        ingest.Settings   `json:"settings"`
	Status          Status            `json:"status"`
	OverallProgress float64           `json:"overall_progress"`
	Accounts        []AccountProgress `json:"accounts"`
	CreatedAt       time.Time         `json:"created_at"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// Summary is the condensed job listing form: the snapshot without per-video
// detail.
type Summary struct {
	JobID           string     `json:"job_id"`
	Creators        []string   `json:"creators"`
	Status          Status     `json:"status"`
	OverallProgress float64    `json:"overall_progress"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// Summarize condenses the snapshot.
func (s Snapshot) Summarize() Summary {
	return Summary{
		JobID:           s.JobID,
		Creators:        s.Creators,
		Status:          s.Status,
		OverallProgress: s.OverallProgress,
		CreatedAt:       s.CreatedAt,
		CompletedAt:     s.CompletedAt,
		Error:           s.Error,
	}
}
