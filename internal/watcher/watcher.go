// Package watcher reloads configuration when its file changes on disk.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"

	"patchbay/internal/config"
)

// DefaultDebounce coalesces bursts of writes from editors
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches a file for changes
type Watcher struct {
	path     string
	onChange func()
	debounce time.Duration
	log      logr.Logger

	readyOnce sync.Once
	ready     chan struct{}
}

// New creates a new file watcher
func New(path string, onChange func(), log logr.Logger) *Watcher {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Watcher{
		path:     path,
		onChange: onChange,
		debounce: DefaultDebounce,
		log:      log.WithName("watcher"),
		ready:    make(chan struct{}),
	}
}

// WithDebounce sets the debounce duration
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// Ready is closed once the file is being watched
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Watch starts watching the file for changes
// It blocks until the context is cancelled or an error occurs
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory containing the file
	// This handles cases where the file is replaced (e.g., by editors)
	dir := filepath.Dir(w.path)
	filename := filepath.Base(w.path)

	if err := watcher.Add(dir); err != nil {
		return err
	}

	w.log.Info("watching for changes", "path", w.path)
	w.readyOnce.Do(func() { close(w.ready) })

	var debounceTimer *time.Timer

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			// Check if this event is for our file
			if filepath.Base(event.Name) != filename {
				continue
			}

			// Handle write, create and rename-into-place events
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(w.debounce, func() {
					w.log.V(1).Info("file changed", "path", w.path)
					w.onChange()
				})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error(err, "watcher error")

		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return ctx.Err()
		}
	}
}

// OnConfigChange returns a change callback that reloads the config at path
// and hands it to apply. Files that fail to load are logged and skipped,
// leaving the previous configuration in force.
func OnConfigChange(path string, log logr.Logger, apply func(*config.Config) error) func() {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return func() {
		cfg, _, err := config.LoadFromPath(path)
		if err != nil {
			log.Error(err, "config reload failed, keeping previous rules", "path", path)
			return
		}
		if err := apply(cfg); err != nil {
			log.Error(err, "applying reloaded config failed", "path", path)
			return
		}
		log.Info("config reloaded", "path", path)
	}
}
