// Package watcher implements the file-change watcher consumed by `zr
// watch`: init(paths, mode, poll_interval_ms) -> watcher, then repeated
// WaitForChange() -> event.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Mode selects the change-detection strategy.
type Mode string

const (
	// ModeNative wraps the host OS facility (inotify/kqueue/
	// ReadDirectoryChanges) via fsnotify.
	ModeNative Mode = "native"

	// ModePolling re-implements the same contract with periodic os.Stat
	// snapshots, for filesystems or platforms fsnotify can't watch.
	ModePolling Mode = "polling"
)

// debounceWindow is the quiet interval after the first event within which
// further changes are coalesced into a single WaitForChange return, per
// spec's ~100ms debounce requirement.
const debounceWindow = 100 * time.Millisecond

// Event reports that a watched path changed.
type Event struct {
	Path string
}

// Watcher observes a set of paths and reports debounced change events.
type Watcher interface {
	// WaitForChange blocks until at least one watched path changes,
	// returning the first offending path after the debounce window
	// elapses. Returns an error if ctx is cancelled first or the
	// underlying facility fails.
	WaitForChange(ctx context.Context) (Event, error)

	// Close releases the watcher's resources.
	Close() error
}

// Init builds a Watcher over paths using mode. pollInterval is only used by
// ModePolling; it is ignored for ModeNative.
func Init(paths []string, mode Mode, pollInterval time.Duration) (Watcher, error) {
	switch mode {
	case ModeNative:
		return newNativeWatcher(paths)
	case ModePolling:
		return newPollingWatcher(paths, pollInterval)
	default:
		return nil, fmt.Errorf("unknown watcher mode: %q", mode)
	}
}

type nativeWatcher struct {
	fsw *fsnotify.Watcher
}

func newNativeWatcher(paths []string) (*nativeWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating native watcher: %w", err)
	}
	for _, p := range paths {
		if err := addRecursive(fsw, p); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("watching %q: %w", p, err)
		}
	}
	return &nativeWatcher{fsw: fsw}, nil
}

// addRecursive adds p, and every directory beneath it, to fsw: fsnotify
// only watches the directories it is explicitly told about, not their
// descendants.
func addRecursive(fsw *fsnotify.Watcher, p string) error {
	return filepath.Walk(p, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
}

func (w *nativeWatcher) WaitForChange(ctx context.Context) (Event, error) {
	var first Event
	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return Event{}, fmt.Errorf("watcher closed")
			}
			if debounceC == nil {
				first = Event{Path: ev.Name}
			}
			if debounce == nil {
				debounce = time.NewTimer(debounceWindow)
				debounceC = debounce.C
			} else {
				if !debounce.Stop() {
					<-debounce.C
				}
				debounce.Reset(debounceWindow)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return Event{}, fmt.Errorf("watcher closed")
			}
			return Event{}, fmt.Errorf("watch error: %w", err)
		case <-debounceC:
			return first, nil
		}
	}
}

func (w *nativeWatcher) Close() error {
	return w.fsw.Close()
}

type pollingWatcher struct {
	paths    []string
	interval time.Duration
	snapshot map[string]snapshotEntry
}

type snapshotEntry struct {
	modTime time.Time
	size    int64
}

func newPollingWatcher(paths []string, interval time.Duration) (*pollingWatcher, error) {
	if interval <= 0 {
		interval = time.Second
	}
	w := &pollingWatcher{paths: paths, interval: interval, snapshot: make(map[string]snapshotEntry)}
	if err := w.rescan(func(string) {}); err != nil {
		return nil, err
	}
	return w, nil
}

// rescan walks every watched path, calling onChange for each file whose
// mtime+size no longer matches the prior snapshot (including new and
// removed files), and updates the snapshot in place.
func (w *pollingWatcher) rescan(onChange func(path string)) error {
	seen := make(map[string]struct{})
	for _, root := range w.paths {
		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil //nolint:nilerr // best-effort: a vanished file is picked up as a removal below.
			}
			if info.IsDir() {
				return nil
			}
			seen[path] = struct{}{}
			entry := snapshotEntry{modTime: info.ModTime(), size: info.Size()}
			if prev, ok := w.snapshot[path]; !ok || prev != entry {
				onChange(path)
			}
			w.snapshot[path] = entry
			return nil
		})
		if err != nil {
			return fmt.Errorf("scanning %q: %w", root, err)
		}
	}
	for path := range w.snapshot {
		if _, ok := seen[path]; !ok {
			delete(w.snapshot, path)
			onChange(path)
		}
	}
	return nil
}

func (w *pollingWatcher) WaitForChange(ctx context.Context) (Event, error) {
	var first Event
	var debounce *time.Timer
	var debounceC <-chan time.Time
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-ticker.C:
			changed := ""
			if err := w.rescan(func(path string) {
				if changed == "" {
					changed = path
				}
			}); err != nil {
				return Event{}, err
			}
			if changed == "" {
				continue
			}
			if debounceC == nil {
				first = Event{Path: changed}
				debounce = time.NewTimer(debounceWindow)
				debounceC = debounce.C
			} else {
				if !debounce.Stop() {
					<-debounce.C
				}
				debounce.Reset(debounceWindow)
			}
		case <-debounceC:
			return first, nil
		}
	}
}

func (w *pollingWatcher) Close() error {
	return nil
}
