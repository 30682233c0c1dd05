// Package notify posts one-line summaries when an ingestion job reaches a
// terminal state. The log backend is always available; the discord backend
// posts the same line through a Discord webhook.
package notify

import (
	"context"
	"fmt"

	"github.com/MrWong99/reelsonar/internal/jobs"
	"github.com/MrWong99/reelsonar/internal/observe"
)

// Notifier receives terminal job snapshots.
type Notifier interface {
	JobFinished(ctx context.Context, snap jobs.Snapshot)
}

// LogNotifier writes the summary line to the structured log.
type LogNotifier struct{}

// NewLogNotifier returns the log backend.
func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

// JobFinished implements [Notifier].
func (n *LogNotifier) JobFinished(ctx context.Context, snap jobs.Snapshot) {
	log := observe.Logger(ctx).With("job_id", snap.JobID)
	switch snap.Status {
	case jobs.StatusFailed:
		log.Warn("job finished", "summary", SummaryLine(snap))
	default:
		log.Info("job finished", "summary", SummaryLine(snap))
	}
}

// SummaryLine renders the one-line terminal summary shared by all backends.
func SummaryLine(snap jobs.Snapshot) string {
	var processed, skipped, failed int
	for _, a := range snap.Accounts {
		processed += a.Processed
		skipped += a.Skipped
		failed += a.Failed
	}
	line := fmt.Sprintf("job %s %s: %d creator(s), %d processed, %d skipped, %d failed",
		snap.JobID, snap.Status, len(snap.Creators), processed, skipped, failed)
	if snap.Error != "" {
		line += " (" + snap.Error + ")"
	}
	return line
}
