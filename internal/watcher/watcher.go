// Package watcher turns filesystem activity under the workflow state root
// into debounced change signals for the pollers that read it.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/adwd/internal/log"
	"github.com/zjrosen/adwd/internal/paths"
)

// DefaultDebounce coalesces the burst of writes a single workflow step
// produces into one signal.
const DefaultDebounce = time.Second

// Config holds watcher configuration options.
type Config struct {
	StateRoot   string
	DebounceDur time.Duration
}

// DefaultConfig returns sensible defaults for the watcher.
func DefaultConfig(stateRoot string) Config {
	return Config{StateRoot: stateRoot, DebounceDur: DefaultDebounce}
}

// Watcher monitors workflow state files under the state root and signals
// when any of them change.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	stateRoot string
	debounce  time.Duration
	onChange  chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	stopErr   error
}

// New creates a state-root watcher. A non-positive debounce falls back to
// DefaultDebounce.
func New(cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	debounce := cfg.DebounceDur
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		fsWatcher: fsw,
		stateRoot: cfg.StateRoot,
		debounce:  debounce,
		onChange:  make(chan struct{}, 1),
		done:      make(chan struct{}),
	}, nil
}

// Start watches the state root and every workflow directory already under
// it, then returns the change channel. The root must exist.
func (w *Watcher) Start() (<-chan struct{}, error) {
	if err := w.fsWatcher.Add(w.stateRoot); err != nil {
		return nil, fmt.Errorf("watching state root %s: %w", w.stateRoot, err)
	}

	// fsnotify watches are not recursive; each workflow directory needs its
	// own watch before writes inside it are visible.
	entries, err := os.ReadDir(w.stateRoot)
	if err != nil {
		return nil, fmt.Errorf("enumerating state root: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			_ = w.fsWatcher.Add(filepath.Join(w.stateRoot, entry.Name()))
		}
	}

	log.SafeGo("state-watcher", w.loop)
	return w.onChange, nil
}

// Stop ends the watch and releases the fsnotify handle. Safe to call more
// than once.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
		w.stopErr = w.fsWatcher.Close()
	})
	return w.stopErr
}

func (w *Watcher) loop() {
	// The timer starts stopped; the first relevant event arms it. Go 1.23
	// timer semantics make the bare Stop and Reset safe without draining.
	debounce := time.NewTimer(w.debounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if w.handleEvent(event) {
				debounce.Reset(w.debounce)
			}

		case <-debounce.C:
			select {
			case w.onChange <- struct{}{}:
			default: // a signal is already waiting
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Warn(log.CatWatcher, "state watch error", "error", err)

		case <-w.done:
			return
		}
	}
}

// handleEvent registers watches on new workflow directories and reports
// whether the event should arm the debounce timer.
func (w *Watcher) handleEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return false
	}

	// A fresh directory under the root is a new workflow. Watch it right
	// away; its state file lands moments later.
	if event.Op&fsnotify.Create != 0 && filepath.Dir(event.Name) == w.stateRoot {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.fsWatcher.Add(event.Name)
			return true
		}
	}

	base := filepath.Base(event.Name)
	return base == paths.StateFileName || base == paths.CostHistoryFileName
}
