// Package watch waits for judged batches to arrive in a results directory and triggers the
// consensus merge once every batch of the manifest is present.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"factaudit/internal/batch"
	"factaudit/internal/logging"
)

// ErrClosed is returned when starting a watcher that was stopped or failed to start.
var ErrClosed = errors.New("watcher is closed")

// MergeFunc is called once when all judged batches are present.
type MergeFunc func(ctx context.Context) error

// Stats tracks watcher activity.
type Stats struct {
	Events        int
	Checks        int
	Errors        int
	Arrived       int
	Expected      int
	Completed     bool
	LastEventPath string
	LastEventTime time.Time
}

// Watcher watches <results>/<provider>/ for judged batch files.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	resultsDir  string
	manifest    *batch.Manifest
	onComplete  MergeFunc
	debounceDur time.Duration
	pending     bool
	lastEvent   time.Time
	fired       bool
	mergeErr    error
	running     bool
	closed      bool
	stopCh      chan struct{}
	doneCh      chan struct{}
	completeCh  chan struct{}

	stats Stats
}

// New creates a watcher for the batches listed in m.
func New(resultsDir string, m *batch.Manifest, onComplete MergeFunc) (*Watcher, error) {
	if m == nil || len(m.Batches) == 0 {
		return nil, errors.New("manifest lists no batches")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     fw,
		resultsDir:  resultsDir,
		manifest:    m,
		onComplete:  onComplete,
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		completeCh:  make(chan struct{}),
		stats:       Stats{Expected: len(m.Batches)},
	}, nil
}

// SetDebounce changes how long the watcher waits after the last event before checking.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	w.debounceDur = d
	w.mu.Unlock()
}

// Start watches the results directory and every provider subdirectory. It does not block.
// If the results are already complete the merge runs right away.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	dirs := []string{w.resultsDir}
	for _, p := range w.manifest.Providers {
		dirs = append(dirs, filepath.Join(w.resultsDir, p))
	}
	for _, dir := range dirs {
		err := os.MkdirAll(dir, 0755)
		if err == nil {
			err = w.watcher.Add(dir)
		}
		if err != nil {
			w.abort()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		logging.WatchDebug("Watching %s", dir)
	}
	logging.Watch("Waiting for %d judged batches in %s", len(w.manifest.Batches), w.resultsDir)

	w.mu.Lock()
	w.pending = true
	w.mu.Unlock()

	go w.run(ctx)
	return nil
}

// abort undoes a failed Start. The event loop never ran, so nothing waits on doneCh.
func (w *Watcher) abort() {
	w.mu.Lock()
	w.running, w.closed = false, true
	w.mu.Unlock()
	close(w.doneCh)
	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryWatch).Error("error closing watcher: %v", err)
	}
}

// Stop stops the watcher and waits for the event loop to exit. A watcher that was never
// started is closed as well.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	wasRunning := w.running
	w.running, w.closed = false, true
	w.mu.Unlock()

	if wasRunning {
		close(w.stopCh)
		<-w.doneCh
	}

	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryWatch).Error("error closing watcher: %v", err)
	}
	logging.Watch("Watcher stopped")
}

// Completed is closed after the merge callback has run.
func (w *Watcher) Completed() <-chan struct{} { return w.completeCh }

// Err returns the merge callback's error, if any.
func (w *Watcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mergeErr
}

// Stats returns a copy of the current counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Missing lists batch ids without a judged file for this manifest's run. Files left over
// from earlier runs count as missing.
func (w *Watcher) Missing() []string {
	var out []string
	for _, e := range w.manifest.Batches {
		if _, err := w.manifest.LoadJudgedFor(w.resultsDir, e); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				logging.WatchDebug("%s not usable: %v", e.BatchID, err)
			}
			out = append(out, e.BatchID)
		}
	}
	return out
}

// Wait starts the watcher, blocks until the merge has run or ctx ends, and stops it.
func (w *Watcher) Wait(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()
	select {
	case <-w.completeCh:
		return w.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryWatch).Error("watch error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-ticker.C:
			w.checkDebounced(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".json") {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	logging.WatchDebug("%s %s", event.Op, event.Name)

	w.mu.Lock()
	w.stats.Events++
	w.stats.LastEventPath = event.Name
	w.stats.LastEventTime = time.Now()
	w.pending = true
	w.lastEvent = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) checkDebounced(ctx context.Context) {
	w.mu.Lock()
	if !w.pending || w.fired || time.Since(w.lastEvent) < w.debounceDur {
		w.mu.Unlock()
		return
	}
	w.pending = false
	w.stats.Checks++
	w.mu.Unlock()

	missing := w.Missing()
	arrived := len(w.manifest.Batches) - len(missing)

	w.mu.Lock()
	w.stats.Arrived = arrived
	w.mu.Unlock()

	if len(missing) > 0 {
		logging.WatchDebug("%d of %d judged batches present", arrived, len(w.manifest.Batches))
		return
	}

	w.mu.Lock()
	w.fired = true
	w.mu.Unlock()

	logging.Watch("All %d judged batches present, merging", arrived)
	var err error
	if w.onComplete != nil {
		err = w.onComplete(ctx)
	}
	if err != nil {
		logging.Get(logging.CategoryWatch).Error("merge failed: %v", err)
	}

	w.mu.Lock()
	w.mergeErr = err
	w.stats.Completed = true
	w.mu.Unlock()
	close(w.completeCh)
}
