package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/reelsonar/internal/config"
)

const watcherStopPhrases = `like and subscribe
link in bio
`

const watcherUpdatedStopPhrases = `like and subscribe
link in bio
smash that bell
`

func TestRulesWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeRuleFiles(t, dir, watcherStopPhrases, canonicalTopicsContent)

	w, err := config.NewRulesWatcher(dir, nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	rules := w.Current()
	if rules == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if got := rules.StopPhraseCount(); got != 2 {
		t.Errorf("stop phrase count: got %d, want 2", got)
	}
	if got := rules.MergeRuleCount(); got != 2 {
		t.Errorf("merge rule count: got %d, want 2", got)
	}
}

func TestRulesWatcher_MissingFilesLoadEmpty(t *testing.T) {
	t.Parallel()
	w, err := config.NewRulesWatcher(t.TempDir(), nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	rules := w.Current()
	if rules == nil {
		t.Fatal("Current() returned nil")
	}
	if rules.StopPhraseCount() != 0 {
		t.Errorf("stop phrase count: got %d, want 0", rules.StopPhraseCount())
	}
}

func TestRulesWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeRuleFiles(t, dir, watcherStopPhrases, "")

	var mu sync.Mutex
	var callbackOld, callbackNew *config.Rules
	called := make(chan struct{}, 1)

	w, err := config.NewRulesWatcher(dir, func(old, new *config.Rules) {
		mu.Lock()
		callbackOld = old
		callbackNew = new
		mu.Unlock()
		select {
		case called <- struct{}{}:
		default:
		}
	}, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	// Give the initial poll a moment, then update the file.
	time.Sleep(100 * time.Millisecond)
	writeRuleFiles(t, dir, watcherUpdatedStopPhrases, "")

	// Wait for callback.
	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	mu.Lock()
	defer mu.Unlock()

	if callbackOld == nil || callbackNew == nil {
		t.Fatal("callback received nil snapshots")
	}
	if callbackOld.StopPhraseCount() != 2 {
		t.Errorf("old stop phrase count: got %d, want 2", callbackOld.StopPhraseCount())
	}
	if callbackNew.StopPhraseCount() != 3 {
		t.Errorf("new stop phrase count: got %d, want 3", callbackNew.StopPhraseCount())
	}

	// Current should return the new snapshot.
	cur := w.Current()
	if cur.StopPhraseCount() != 3 {
		t.Errorf("Current() stop phrase count: got %d, want 3", cur.StopPhraseCount())
	}
}

func TestRulesWatcher_FileAppears(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	called := make(chan struct{}, 1)
	w, err := config.NewRulesWatcher(dir, func(old, new *config.Rules) {
		select {
		case called <- struct{}{}:
		default:
		}
	}, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	time.Sleep(100 * time.Millisecond)
	writeRuleFiles(t, dir, watcherStopPhrases, "")

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked after rule file appeared")
	}

	if got := w.Current().StopPhraseCount(); got != 2 {
		t.Errorf("stop phrase count after appearance: got %d, want 2", got)
	}
}

func TestRulesWatcher_InvalidFileKeepsOldSnapshot(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeRuleFiles(t, dir, watcherStopPhrases, canonicalTopicsContent)

	callCount := 0
	var mu sync.Mutex

	w, err := config.NewRulesWatcher(dir, func(old, new *config.Rules) {
		mu.Lock()
		callCount++
		mu.Unlock()
	}, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	// Corrupt the canonical topics file.
	time.Sleep(100 * time.Millisecond)
	writeRuleFiles(t, dir, "", `{"merge_rules": `)

	// Wait enough polls for it to notice the change.
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	calls := callCount
	mu.Unlock()

	if calls != 0 {
		t.Errorf("callback should not be called for invalid rules, got %d calls", calls)
	}

	// Current should still be the old valid snapshot.
	cur := w.Current()
	if cur.MergeRuleCount() != 2 {
		t.Errorf("Current() should still have old rules, got %d merge rules", cur.MergeRuleCount())
	}
}

func TestRulesWatcher_InitialLoadFailsOnBadJSON(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeRuleFiles(t, dir, "", `not json`)

	_, err := config.NewRulesWatcher(dir, nil)
	if err == nil {
		t.Fatal("expected error for corrupt canonical topics at startup, got nil")
	}
}

func TestRulesWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeRuleFiles(t, dir, watcherStopPhrases, "")

	w, err := config.NewRulesWatcher(dir, nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Multiple stops should not panic.
	w.Stop()
	w.Stop()
	w.Stop()
}

func TestRulesWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeRuleFiles(t, dir, watcherStopPhrases, "")

	callCount := 0
	var mu sync.Mutex

	w, err := config.NewRulesWatcher(dir, func(old, new *config.Rules) {
		mu.Lock()
		callCount++
		mu.Unlock()
	}, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	// Touch the file (update mtime) without changing content.
	time.Sleep(100 * time.Millisecond)
	now := time.Now().Add(time.Second)
	path := filepath.Join(dir, config.StopPhrasesFile)
	if err := os.Chtimes(path, now, now); err != nil {
		t.Fatalf("failed to touch file: %v", err)
	}

	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	calls := callCount
	mu.Unlock()

	if calls != 0 {
		t.Errorf("callback should not fire for touch-only, got %d calls", calls)
	}
}
