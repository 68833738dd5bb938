// Package watch drives re-scans from filesystem activity. A Watcher observes
// a directory tree recursively, coalesces bursts of change events into one
// debounced batch, and hands the batch to the caller, which typically runs a
// scan over the root again.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/Eng-Elias/codetective/internal/fsutil"
	"github.com/Eng-Elias/codetective/internal/logging"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// DefaultDebounce batches rapid-fire editor saves into a single event.
const DefaultDebounce = 500 * time.Millisecond

// skippedDirs are never watched. Changes inside them (dependency installs,
// git plumbing, caches) would otherwise trigger constant re-scans.
var skippedDirs = map[string]bool{
	".git":          true,
	"node_modules":  true,
	".venv":         true,
	"venv":          true,
	"__pycache__":   true,
	".tox":          true,
	".mypy_cache":   true,
	".pytest_cache": true,
}

// Event is one debounced batch of filesystem changes.
type Event struct {
	// Paths are the files that changed in this window, deduplicated.
	Paths []string

	// Timestamp is when the batch was emitted.
	Timestamp time.Time
}

// Watcher observes a directory tree and emits debounced change batches.
type Watcher struct {
	root     string
	debounce time.Duration
	ignore   map[string]bool // base names to ignore, e.g. the result file
	watcher  *fsnotify.Watcher
	events   chan Event
	stop     chan struct{}
	log      *logging.Logger
}

// New creates a watcher over root. debounce <= 0 uses DefaultDebounce.
// ignoreNames lists file base names whose changes never trigger an event;
// callers pass the scan result file so writing a report does not re-scan.
func New(root string, debounce time.Duration, ignoreNames []string, log *logging.Logger) (*Watcher, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("watch root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch root %s is not a directory", root)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = logging.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	ignore := make(map[string]bool, len(ignoreNames))
	for _, name := range ignoreNames {
		ignore[name] = true
	}

	return &Watcher{
		root:     root,
		debounce: debounce,
		ignore:   ignore,
		watcher:  fsw,
		events:   make(chan Event, 10),
		stop:     make(chan struct{}),
		log:      log.Named("watch"),
	}, nil
}

// Start registers the directory tree and begins processing in a background
// goroutine. Call Stop to clean up resources.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addTree(w.root); err != nil {
		return err
	}
	go w.processEvents(ctx)
	return nil
}

// Stop stops the watcher and releases its resources. Safe to call twice.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
		_ = w.watcher.Close()
	}
}

// Events returns the channel change batches are delivered on.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// addTree watches every directory under root that isn't skipped.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return fs.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skippedDirs[d.Name()] {
			return fs.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.log.Warn(context.Background(), "cannot watch directory",
				zap.String("dir", path), zap.Error(err))
		}
		return nil
	})
}

// processEvents coalesces raw notifications. The debounce timer restarts on
// every relevant change; when it fires, the accumulated paths go out as one
// batch.
func (w *Watcher) processEvents(ctx context.Context) {
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := make(map[string]bool)

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			// New directories join the watch set so files created inside
			// them are seen.
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if !skippedDirs[filepath.Base(event.Name)] {
						_ = w.watcher.Add(event.Name)
					}
					continue
				}
			}
			pending[event.Name] = true
			timer.Reset(w.debounce)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			batch := make([]string, 0, len(pending))
			for path := range pending {
				batch = append(batch, path)
			}
			pending = make(map[string]bool)

			select {
			case w.events <- Event{Paths: batch, Timestamp: time.Now()}:
			default:
				w.log.Warn(ctx, "event channel full, dropping change batch",
					zap.Int("paths", len(batch)))
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn(ctx, "watcher error", zap.Error(err))
		}
	}
}

// relevant filters the raw event stream: only content-changing operations on
// files we would scan, never our own artifacts.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) &&
		!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return false
	}
	base := filepath.Base(event.Name)
	if w.ignore[base] {
		return false
	}
	if strings.HasSuffix(base, fsutil.BackupSuffix) {
		return false
	}
	// Editor temp files and the atomic-write temp names.
	if strings.HasPrefix(base, ".") && strings.Contains(base, ".tmp-") {
		return false
	}
	if strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp") {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(event.Name), "/") {
		if skippedDirs[part] {
			return false
		}
	}
	return true
}
