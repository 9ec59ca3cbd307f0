// Package watch re-triggers a callback when watched files change, with a
// debounce window so batched writes fire once.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher invokes OnChange after filesystem events settle.
type Watcher struct {
	Paths    []string
	Debounce time.Duration
	OnChange func()
	Logger   *slog.Logger
}

// Watch blocks until ctx is cancelled, invoking OnChange (debounced) on
// writes, creates, removes and renames under the watched paths.
func (w *Watcher) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	for _, p := range w.Paths {
		// Watch the containing directory: editors replace files on save,
		// which unregisters a direct file watch.
		if err := fsw.Add(filepath.Dir(p)); err != nil {
			return err
		}
	}

	debounce := w.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	var timer *time.Timer
	fired := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !w.interested(ev.Name) {
				continue
			}
			if w.Logger != nil {
				w.Logger.Debug("file change detected", "path", ev.Name, "op", ev.Op.String())
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case fired <- struct{}{}:
				default:
				}
			})
		case <-fired:
			w.OnChange()
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			if w.Logger != nil {
				w.Logger.Warn("watch error", "error", err)
			}
		}
	}
}

// interested reports whether an event path is one of the watched files.
func (w *Watcher) interested(path string) bool {
	for _, p := range w.Paths {
		if filepath.Clean(p) == filepath.Clean(path) {
			return true
		}
	}
	return false
}
