package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/reelsonar/internal/ingest"
	"github.com/MrWong99/reelsonar/pkg/faults"
	"github.com/MrWong99/reelsonar/pkg/types"
)

// errCancelled aborts a worker through the suspension gate.
var errCancelled = errors.New("jobs: cancelled")

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind starts losing intermediate snapshots; it never
// blocks the worker.
const subscriberBuffer = 16

// job is the live state behind one Snapshot. All fields are guarded by mu;
// snapshots are deep copies taken under it.
type job struct {
	mu sync.Mutex

	snap Snapshot

	// runningStatus is the phase to restore on resume.
	runningStatus Status

	paused    bool
	cancelled bool

	// resumeCh is closed on resume or cancel to wake gated workers. Only
	// valid while paused.
	resumeCh chan struct{}

	subs    map[int]chan Snapshot
	nextSub int
}

func newJob(id string, creators []string, f ingest.Filters, s ingest.Settings) *job {
	accounts := make([]AccountProgress, len(creators))
	norm := make([]string, len(creators))
	for i, c := range creators {
		norm[i] = types.NormalizeHandle(c)
		accounts[i] = AccountProgress{
			Creator: norm[i],
			Status:  string(StatusQueued),
			Videos:  []VideoProgress{},
		}
	}
	return &job{
		snap: Snapshot{
			JobID:     id,
			Creators:  norm,
			Filters:   f,
			Settings:  s,
			Status:    StatusQueued,
			Accounts:  accounts,
			CreatedAt: time.Now().UTC(),
		},
		runningStatus: StatusQueued,
		subs:          make(map[int]chan Snapshot),
	}
}

// snapshot returns a deep copy of the current state.
func (j *job) snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked()
}

func (j *job) snapshotLocked() Snapshot {
	s := j.snap
	s.Creators = append([]string(nil), j.snap.Creators...)
	s.Accounts = make([]AccountProgress, len(j.snap.Accounts))
	for i, a := range j.snap.Accounts {
		a.Videos = append([]VideoProgress(nil), a.Videos...)
		s.Accounts[i] = a
	}
	return s
}

// publish takes a snapshot and fans it out to subscribers. Channels that are
// full are skipped.
func (j *job) publish() Snapshot {
	j.mu.Lock()
	s := j.snapshotLocked()
	subs := make([]chan Snapshot, 0, len(j.subs))
	for _, ch := range j.subs {
		subs = append(subs, ch)
	}
	j.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- s:
		default:
		}
	}
	return s
}

// mutate applies fn under the job lock, recomputes the aggregate progress,
// and publishes the result.
func (j *job) mutate(fn func(*Snapshot)) Snapshot {
	j.mu.Lock()
	fn(&j.snap)
	j.recomputeProgressLocked()
	j.mu.Unlock()
	return j.publish()
}

// recomputeProgressLocked folds account counters into the overall
// percentage: done videos over the filtered total, zero while nothing is
// filtered yet. Only terminal transitions may move it backward.
func (j *job) recomputeProgressLocked() {
	var done, filtered int
	for _, a := range j.snap.Accounts {
		done += a.Processed + a.Skipped + a.Failed
		filtered += a.FilteredCount
	}
	if filtered == 0 {
		return
	}
	p := float64(done) / float64(filtered) * 100
	if p > j.snap.OverallProgress || j.snap.Status.Terminal() {
		j.snap.OverallProgress = p
	}
}

// gate is the suspension point handed to the pipeline. It blocks while the
// job is paused and returns errCancelled once the job is cancelled.
func (j *job) gate(ctx context.Context) error {
	for {
		j.mu.Lock()
		if j.cancelled {
			j.mu.Unlock()
			return errCancelled
		}
		if !j.paused {
			j.mu.Unlock()
			return ctx.Err()
		}
		ch := j.resumeCh
		j.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// pause flips the cooperative pause flag.
func (j *job) pause() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.snap.Status.Terminal() {
		return faults.New(faults.JobNotPausable, "jobs: pause "+j.snap.JobID+" ("+string(j.snap.Status)+")")
	}
	if j.paused {
		return faults.New(faults.JobNotPausable, "jobs: pause "+j.snap.JobID+" (already paused)")
	}
	j.paused = true
	j.resumeCh = make(chan struct{})
	j.runningStatus = j.snap.Status
	j.snap.Status = StatusPaused
	return nil
}

// resume clears the pause flag and wakes gated workers.
func (j *job) resume() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.snap.Status.Terminal() {
		return faults.New(faults.JobNotResumable, "jobs: resume "+j.snap.JobID+" ("+string(j.snap.Status)+")")
	}
	if !j.paused {
		return faults.New(faults.JobNotResumable, "jobs: resume "+j.snap.JobID+" (not paused)")
	}
	j.paused = false
	j.snap.Status = j.runningStatus
	close(j.resumeCh)
	return nil
}

// cancel sets the terminal flag. Gated or paused workers wake immediately;
// running workers stop at their next suspension point.
func (j *job) cancel() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.snap.Status.Terminal() {
		return faults.New(faults.JobAlreadyTerminal, "jobs: cancel "+j.snap.JobID+" ("+string(j.snap.Status)+")")
	}
	j.cancelled = true
	if j.paused {
		j.paused = false
		close(j.resumeCh)
	}
	return nil
}

// subscribe registers a snapshot channel. The returned func unsubscribes.
// Subscribing to a terminal job yields the final snapshot and a closed
// channel.
func (j *job) subscribe() (<-chan Snapshot, func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.snap.Status.Terminal() {
		ch := make(chan Snapshot, 1)
		ch <- j.snapshotLocked()
		close(ch)
		return ch, func() {}
	}
	id := j.nextSub
	j.nextSub++
	ch := make(chan Snapshot, subscriberBuffer)
	j.subs[id] = ch
	return ch, func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		if _, ok := j.subs[id]; ok {
			delete(j.subs, id)
			close(ch)
		}
	}
}

// closeSubscribers shuts every subscriber channel after the terminal
// snapshot has been published.
func (j *job) closeSubscribers() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for id, ch := range j.subs {
		delete(j.subs, id)
		close(ch)
	}
}

// setPhase updates the job status and the running account's phase, unless
// the job is paused (the phase is then kept for resume).
func (j *job) setPhase(account int, phase string) {
	j.mutate(func(s *Snapshot) {
		j.runningStatus = Status(phase)
		if !j.paused && !s.Status.Terminal() {
			s.Status = Status(phase)
		}
		if account >= 0 && account < len(s.Accounts) {
			s.Accounts[account].Status = phase
		}
	})
}

// applyVideoUpdate folds one pipeline video event into the account block.
func (j *job) applyVideoUpdate(account int, u ingest.VideoUpdate) {
	j.mutate(func(s *Snapshot) {
		if account < 0 || account >= len(s.Accounts) {
			return
		}
		a := &s.Accounts[account]
		now := time.Now().UTC()

		idx := -1
		for i := range a.Videos {
			if a.Videos[i].VideoID == u.VideoID {
				idx = i
				break
			}
		}
		if idx == -1 {
			a.Videos = append(a.Videos, VideoProgress{
				VideoID:   u.VideoID,
				Title:     u.Title,
				StartedAt: &now,
			})
			idx = len(a.Videos) - 1
		}
		v := &a.Videos[idx]
		v.Status = u.Status
		v.Step = u.Step
		v.Error = u.Error
		if u.ProgressPct > v.ProgressPct {
			v.ProgressPct = u.ProgressPct
		}

		switch u.Status {
		case ingest.VideoComplete:
			a.Processed++
			v.CompletedAt = &now
			a.CurrentVideo = ""
		case ingest.VideoFailed:
			a.Failed++
			v.CompletedAt = &now
			a.CurrentVideo = ""
		case ingest.VideoSkippedExisting, ingest.VideoSkippedNoSpeech, ingest.VideoSkippedDuration:
			a.Skipped++
			v.CompletedAt = &now
			a.CurrentVideo = ""
		default:
			a.CurrentVideo = u.VideoID
		}

		// Let the dominant per-video stage drive the job status.
		if phase, ok := videoPhase(u.Status); ok && !j.paused && !s.Status.Terminal() {
			j.runningStatus = phase
			s.Status = phase
		}
	})
}

// videoPhase maps a per-video stage to the job status it dominates.
func videoPhase(videoStatus string) (Status, bool) {
	switch videoStatus {
	case ingest.VideoDownloading:
		return StatusDownloading, true
	case ingest.VideoTranscribing:
		return StatusTranscribing, true
	case ingest.VideoExtractingV1, ingest.VideoExtractingV2:
		return StatusExtractingTopics, true
	case ingest.VideoIndexing:
		return StatusEmbedding, true
	}
	return "", false
}
