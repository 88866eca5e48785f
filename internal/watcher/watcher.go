// Package watcher rebuilds the active session when image files in its folder change.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/imgsearch/internal/scanner"
)

const defaultDebounce = 400 * time.Millisecond

// Watcher watches one folder and calls onChange once a burst of image file events has
// settled. Switching folders with Watch drops the previous watches.
type Watcher struct {
	patterns  []string
	recursive bool
	onChange  func(folder string)
	debounce  time.Duration
	logger    *zap.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	folder   string
	watched  []string
	timer    *time.Timer
	done     chan struct{}
	started  bool
	stopOnce sync.Once
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets a logger for debug output (watched folders, file events).
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long the folder must be quiet before onChange runs.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher. patterns select which files count as images (see scanner.Match).
func NewWatcher(patterns []string, recursive bool, onChange func(folder string), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		patterns:  patterns,
		recursive: recursive,
		onChange:  onChange,
		debounce:  defaultDebounce,
		logger:    zap.NewNop(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	return w
}

// Start starts the event loop. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fw
	w.started = true
	go w.run(ctx, fw)
	return nil
}

// Watch makes folder the watched folder. An empty folder stops watching without stopping the loop.
func (w *Watcher) Watch(folder string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return nil
	}
	if folder != "" {
		abs, err := filepath.Abs(folder)
		if err != nil {
			return err
		}
		folder = filepath.Clean(abs)
	}
	if folder == w.folder {
		return nil
	}
	for _, p := range w.watched {
		_ = w.watcher.Remove(p)
	}
	w.watched = nil
	w.folder = ""
	w.stopTimerLocked()
	if folder == "" {
		return nil
	}
	if err := w.addTreeLocked(folder); err != nil {
		return err
	}
	w.folder = folder
	w.logger.Debug("watching folder", zap.String("folder", folder), zap.Bool("recursive", w.recursive))
	return nil
}

// Folder returns the watched folder, or "".
func (w *Watcher) Folder() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.folder
}

// Stop stops the watcher and cancels a pending callback.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		defer w.mu.Unlock()
		w.stopTimerLocked()
		if w.watcher != nil {
			_ = w.watcher.Close()
			w.watcher = nil
		}
		w.watched = nil
		w.folder = ""
	})
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.folder == "" || !inDir(w.folder, ev.Name) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", ev.Name))

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !w.recursive || isHidden(ev.Name) {
				return
			}
			if err := w.addTreeLocked(ev.Name); err != nil {
				w.logger.Debug("watcher failed to add directory", zap.String("path", ev.Name), zap.Error(err))
			}
			// files may already be inside a directory moved into place
			w.scheduleLocked()
			return
		}
	}
	if scanner.Match(w.patterns, w.folder, ev.Name) {
		w.scheduleLocked()
	}
}

func (w *Watcher) scheduleLocked() {
	w.stopTimerLocked()
	folder := w.folder
	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		current := w.folder
		w.timer = nil
		w.mu.Unlock()
		if current != folder {
			return
		}
		w.logger.Debug("folder changed", zap.String("folder", folder))
		if w.onChange != nil {
			w.onChange(folder)
		}
	})
}

func (w *Watcher) stopTimerLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Watcher) addTreeLocked(root string) error {
	if !w.recursive {
		if err := w.watcher.Add(root); err != nil {
			return err
		}
		w.watched = append(w.watched, root)
		return nil
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && isHidden(path) {
			return fs.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return err
		}
		w.watched = append(w.watched, path)
		return nil
	})
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
