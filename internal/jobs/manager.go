package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/reelsonar/internal/ingest"
	"github.com/MrWong99/reelsonar/internal/observe"
	"github.com/MrWong99/reelsonar/pkg/faults"
)

const defaultMaxConcurrentJobs = 2

// Runner executes the ingestion pipeline for one creator. *ingest.Pipeline
// satisfies it.
type Runner interface {
	Run(ctx context.Context, creator string, f ingest.Filters, s ingest.Settings, hooks ingest.Hooks) (*ingest.AccountResult, error)
}

// Notifier receives every terminal job snapshot.
type Notifier func(snap Snapshot)

// Manager owns the job table: it schedules runs under a global concurrency
// cap, serves snapshots, brokers pause/resume/cancel, and checkpoints job
// state to disk so a restart can report what was interrupted.
type Manager struct {
	runner  Runner
	dir     string
	sem     *semaphore.Weighted
	notify  Notifier
	metrics *observe.Metrics

	mu   sync.Mutex
	jobs map[string]*job

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMaxConcurrentJobs caps how many jobs execute at once. Jobs beyond the
// cap stay queued. Values below one fall back to the default.
func WithMaxConcurrentJobs(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithNotifier installs a callback invoked with every terminal snapshot.
func WithNotifier(fn Notifier) ManagerOption {
	return func(m *Manager) { m.notify = fn }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(met *observe.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = met }
}

// NewManager returns a Manager persisting under dir. Snapshots found on disk
// are loaded back into the table; any that were mid-flight when the process
// died are marked failed.
func NewManager(runner Runner, dir string, opts ...ManagerOption) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, faults.Wrap(faults.IndexWrite, "jobs: mkdir "+dir, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		runner:  runner,
		dir:     dir,
		sem:     semaphore.NewWeighted(defaultMaxConcurrentJobs),
		metrics: observe.DefaultMetrics(),
		jobs:    make(map[string]*job),
		baseCtx: ctx,
		stop:    cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.recover(); err != nil {
		cancel()
		return nil, err
	}
	return m, nil
}

// recover loads persisted snapshots. Jobs that were not terminal at crash
// time cannot be resumed; they are recorded as failed so the history stays
// honest.
func (m *Manager) recover() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return faults.Wrap(faults.IndexWrite, "jobs: read "+m.dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(m.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return faults.Wrap(faults.IndexWrite, "jobs: read "+path, err)
		}
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			observe.Logger(m.baseCtx).Warn("skipping unreadable job snapshot",
				"path", path, "error", err)
			continue
		}
		if !snap.Status.Terminal() {
			now := time.Now().UTC()
			snap.Status = StatusFailed
			snap.Error = "interrupted by restart"
			snap.CompletedAt = &now
			if err := m.persist(snap); err != nil {
				return err
			}
		}
		j := &job{snap: snap, cancelled: true, subs: make(map[int]chan Snapshot)}
		m.jobs[snap.JobID] = j
	}
	return nil
}

// Start validates the request, registers a queued job, and schedules it. The
// returned snapshot is the job's initial state.
func (m *Manager) Start(ctx context.Context, creators []string, f ingest.Filters, s ingest.Settings) (Snapshot, error) {
	if len(creators) == 0 {
		return Snapshot{}, faults.New(faults.Validation, "jobs: start (no creators)")
	}
	if err := f.Validate(); err != nil {
		return Snapshot{}, err
	}
	if err := s.Validate(); err != nil {
		return Snapshot{}, err
	}

	j := newJob(uuid.NewString(), creators, f, s)
	snap := j.snapshot()
	if err := m.persist(snap); err != nil {
		return Snapshot{}, err
	}

	m.mu.Lock()
	m.jobs[snap.JobID] = j
	m.mu.Unlock()

	observe.Logger(ctx).Info("job queued",
		"job_id", snap.JobID, "creators", len(snap.Creators))

	m.wg.Add(1)
	go m.execute(j)
	return snap, nil
}

// Get returns the snapshot for id.
func (m *Manager) Get(id string) (Snapshot, error) {
	j, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	return j.snapshot(), nil
}

// List returns all known jobs, newest first.
func (m *Manager) List() []Summary {
	m.mu.Lock()
	out := make([]Summary, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.snapshot().Summarize())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	return out
}

// Pause suspends id at its next suspension point.
func (m *Manager) Pause(id string) (Snapshot, error) {
	j, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	if err := j.pause(); err != nil {
		return Snapshot{}, err
	}
	snap := j.publish()
	if err := m.persist(snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Resume wakes a paused job.
func (m *Manager) Resume(id string) (Snapshot, error) {
	j, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	if err := j.resume(); err != nil {
		return Snapshot{}, err
	}
	snap := j.publish()
	if err := m.persist(snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Cancel requests cooperative cancellation. The job turns terminal once its
// workers reach a suspension point; already-committed work is kept.
func (m *Manager) Cancel(id string) (Snapshot, error) {
	j, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	if err := j.cancel(); err != nil {
		return Snapshot{}, err
	}
	return j.snapshot(), nil
}

// Subscribe streams snapshots for id until the job ends or the returned
// cancel func is called. Slow consumers lose intermediate snapshots rather
// than slowing the job down.
func (m *Manager) Subscribe(id string) (<-chan Snapshot, func(), error) {
	j, err := m.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	ch, unsub := j.subscribe()
	return ch, unsub, nil
}

// Shutdown stops scheduling, cancels running jobs, and waits for executors
// to drain or ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stop()
	m.mu.Lock()
	for _, j := range m.jobs {
		j.cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return faults.Wrap(faults.Internal, "jobs: shutdown", ctx.Err())
	}
}

func (m *Manager) lookup(id string) (*job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, faults.New(faults.JobNotFound, "jobs: "+id)
	}
	return j, nil
}

// execute runs one job to its terminal state: acquire a concurrency slot,
// walk the creators in order, checkpoint after every account, then settle
// the final status.
func (m *Manager) execute(j *job) {
	defer m.wg.Done()
	ctx := m.baseCtx

	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.finish(j, StatusCancelled, "")
		return
	}
	defer m.sem.Release(1)

	m.metrics.ActiveJobs.Add(ctx, 1)
	defer m.metrics.ActiveJobs.Add(ctx, -1)

	snap := j.mutate(func(s *Snapshot) {
		now := time.Now().UTC()
		s.StartedAt = &now
	})
	log := observe.Logger(ctx).With("job_id", snap.JobID)
	log.Info("job started")

	var (
		anyComplete bool
		cancelled   bool
		firstErr    error
	)
	for i, creator := range snap.Creators {
		if err := j.gate(ctx); err != nil {
			cancelled = true
			break
		}

		hooks := ingest.Hooks{
			Phase:  func(phase string) { j.setPhase(i, phase) },
			Totals: m.totalsHook(j, i),
			Video:  func(u ingest.VideoUpdate) { j.applyVideoUpdate(i, u) },
			Gate:   j.gate,
		}
		res, err := m.runner.Run(ctx, creator, snap.Filters, snap.Settings, hooks)

		switch {
		case errors.Is(err, errCancelled) || errors.Is(err, context.Canceled):
			cancelled = true
		case err != nil:
			log.Warn("creator run failed", "creator", creator, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			j.mutate(accountDone(i, res, StatusFailed, err.Error()))
		default:
			anyComplete = true
			j.mutate(accountDone(i, res, StatusComplete, ""))
		}
		if err := m.persist(j.snapshot()); err != nil {
			log.Warn("job checkpoint failed", "error", err)
		}
		if cancelled {
			break
		}
	}

	switch {
	case cancelled:
		m.finish(j, StatusCancelled, "")
		log.Info("job cancelled")
	case anyComplete:
		m.finish(j, StatusComplete, errorText(firstErr))
		log.Info("job complete")
	default:
		m.finish(j, StatusFailed, errorText(firstErr))
		log.Warn("job failed", "error", firstErr)
	}
}

// totalsHook fills the account counters once filtering for it finishes.
func (m *Manager) totalsHook(j *job, account int) func(int, int) {
	return func(totalFound, filtered int) {
		j.mutate(func(s *Snapshot) {
			if account >= 0 && account < len(s.Accounts) {
				s.Accounts[account].TotalFound = totalFound
				s.Accounts[account].FilteredCount = filtered
			}
		})
	}
}

// accountDone settles one account block from the pipeline result.
func accountDone(account int, res *ingest.AccountResult, status Status, errText string) func(*Snapshot) {
	return func(s *Snapshot) {
		if account < 0 || account >= len(s.Accounts) {
			return
		}
		a := &s.Accounts[account]
		a.Status = string(status)
		a.CurrentVideo = ""
		a.Error = errText
		if res != nil {
			a.TotalFound = res.TotalFound
			a.FilteredCount = res.Filtered
			a.Processed = res.Processed
			a.Skipped = res.Skipped
			a.Failed = res.Failed
		}
	}
}

// finish records the terminal state, checkpoints it, notifies, and closes
// subscriber channels.
func (m *Manager) finish(j *job, status Status, errText string) {
	snap := j.mutate(func(s *Snapshot) {
		now := time.Now().UTC()
		s.Status = status
		s.CompletedAt = &now
		s.Error = errText
		if status == StatusComplete {
			s.OverallProgress = 100
		}
	})
	j.mu.Lock()
	j.cancelled = true
	j.mu.Unlock()

	if err := m.persist(snap); err != nil {
		observe.Logger(m.baseCtx).Warn("terminal job checkpoint failed",
			"job_id", snap.JobID, "error", err)
	}
	if m.notify != nil {
		m.notify(snap)
	}
	j.closeSubscribers()
}

// errorText is Error() on non-nil errors, "" otherwise.
func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// persist replaces the job's snapshot file atomically: marshal to a temp
// file in the same directory, fsync, then rename over the old file.
func (m *Manager) persist(snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return faults.Wrap(faults.IndexWrite, "jobs: marshal "+snap.JobID, err)
	}
	tmp, err := os.CreateTemp(m.dir, snap.JobID+".tmp-*")
	if err != nil {
		return faults.Wrap(faults.IndexWrite, "jobs: stage "+snap.JobID, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return faults.Wrap(faults.IndexWrite, "jobs: stage "+snap.JobID, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return faults.Wrap(faults.IndexWrite, "jobs: stage "+snap.JobID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return faults.Wrap(faults.IndexWrite, "jobs: stage "+snap.JobID, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return faults.Wrap(faults.IndexWrite, "jobs: stage "+snap.JobID, err)
	}
	dst := filepath.Join(m.dir, fmt.Sprintf("%s.json", snap.JobID))
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return faults.Wrap(faults.IndexWrite, "jobs: commit "+snap.JobID, err)
	}
	return nil
}
