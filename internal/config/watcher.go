package config

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RulesWatcher monitors the topic-rule files in a config dir and calls a
// callback when either file changes. It uses polling (not fsnotify) to keep
// dependencies minimal. Missing rule files are not an error; they read as an
// empty rule set and the watcher picks them up once they appear.
type RulesWatcher struct {
	dir      string
	interval time.Duration
	onChange func(old, new *Rules)

	mu       sync.Mutex
	current  *Rules
	done     chan struct{}
	stopOnce sync.Once

	// last known file state for change detection
	lastMtimes map[string]time.Time
	lastHash   [sha256.Size]byte
}

// WatcherOption configures a [RulesWatcher].
type WatcherOption func(*RulesWatcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *RulesWatcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewRulesWatcher creates a rule-file watcher over dir. It loads the initial
// snapshot immediately and starts polling in a background goroutine.
func NewRulesWatcher(dir string, onChange func(old, new *Rules), opts ...WatcherOption) (*RulesWatcher, error) {
	w := &RulesWatcher{
		dir:      dir,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	// Load initial snapshot.
	rules, hash, mtimes, err := w.loadAndHash()
	if err != nil {
		return nil, fmt.Errorf("config: rules watcher initial load: %w", err)
	}
	w.current = rules
	w.lastHash = hash
	w.lastMtimes = mtimes

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid rule snapshot.
func (w *RulesWatcher) Current() *Rules {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops the file watcher.
func (w *RulesWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

// poll runs in a background goroutine, checking the rule files periodically.
func (w *RulesWatcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check stats the rule files and, if either changed and the new contents are
// valid, calls onChange and swaps the current snapshot.
func (w *RulesWatcher) check() {
	// Quick mtime check first to avoid hashing unchanged files.
	mtimes := w.statFiles()

	w.mu.Lock()
	unchanged := mtimesEqual(mtimes, w.lastMtimes)
	w.mu.Unlock()

	if unchanged {
		return
	}

	// Mtime changed — read, hash, and parse.
	rules, hash, newMtimes, err := w.loadAndHash()
	if err != nil {
		slog.Warn("rules watcher: failed to load rule files", "dir", w.dir, "err", err)
		return
	}

	w.mu.Lock()

	if hash == w.lastHash {
		// Files were touched but content is identical.
		w.lastMtimes = newMtimes
		w.mu.Unlock()
		return
	}

	old := w.current
	w.current = rules
	w.lastHash = hash
	w.lastMtimes = newMtimes
	w.mu.Unlock()

	slog.Info("rules watcher: topic rules reloaded",
		"dir", w.dir,
		"stop_phrases", rules.StopPhraseCount(),
		"merge_rules", rules.MergeRuleCount(),
	)

	// Invoke the callback outside the lock so it can safely call Current().
	if w.onChange != nil {
		w.onChange(old, rules)
	}
}

// ruleFiles returns the absolute paths of the watched files.
func (w *RulesWatcher) ruleFiles() []string {
	return []string{
		filepath.Join(w.dir, StopPhrasesFile),
		filepath.Join(w.dir, CanonicalTopicsFile),
	}
}

// statFiles returns the mtime of each watched file; missing files map to the
// zero time so appearing and disappearing both register as changes.
func (w *RulesWatcher) statFiles() map[string]time.Time {
	mtimes := make(map[string]time.Time, 2)
	for _, path := range w.ruleFiles() {
		info, err := os.Stat(path)
		if err != nil {
			mtimes[path] = time.Time{}
			continue
		}
		mtimes[path] = info.ModTime()
	}
	return mtimes
}

func mtimesEqual(a, b map[string]time.Time) bool {
	if len(a) != len(b) {
		return false
	}
	for path, t := range a {
		if !b[path].Equal(t) {
			return false
		}
	}
	return true
}

// loadAndHash reads both rule files, parses them, and returns the snapshot
// alongside a combined SHA-256 of the raw contents and the observed mtimes.
// If the contents are invalid it returns an error (the caller should keep
// the old snapshot).
func (w *RulesWatcher) loadAndHash() (*Rules, [sha256.Size]byte, map[string]time.Time, error) {
	var zeroHash [sha256.Size]byte

	mtimes := w.statFiles()

	stopData, err := readRuleFile(filepath.Join(w.dir, StopPhrasesFile))
	if err != nil {
		return nil, zeroHash, nil, err
	}
	canonData, err := readRuleFile(filepath.Join(w.dir, CanonicalTopicsFile))
	if err != nil {
		return nil, zeroHash, nil, err
	}

	h := sha256.New()
	h.Write(stopData)
	h.Write([]byte{0})
	h.Write(canonData)
	var hash [sha256.Size]byte
	copy(hash[:], h.Sum(nil))

	rules, err := parseRules(stopData, canonData)
	if err != nil {
		return nil, zeroHash, nil, err
	}

	return rules, hash, mtimes, nil
}
