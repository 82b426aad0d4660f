package schema

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// TemplateWatcher watches a share/templates directory and debounces
// filesystem events on any file in it (not only manifest.yaml) into a
// single callback, mirroring the
// watch-and-debounce shape used for JSONL/git-ref change detection.
type TemplateWatcher struct {
	watcher *fsnotify.Watcher
	log     *slog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	debounce time.Duration
	onChange func()
}

// NewTemplateWatcher starts watching templateRoot. onChange fires at most
// once per debounce window after one or more filesystem events.
func NewTemplateWatcher(templateRoot string, log *slog.Logger, onChange func()) (*TemplateWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(templateRoot); err != nil {
		_ = w.Close()
		return nil, err
	}
	return &TemplateWatcher{watcher: w, log: log, debounce: 500 * time.Millisecond, onChange: onChange}, nil
}

// Run blocks, dispatching debounced change notifications until ctx is
// canceled.
func (tw *TemplateWatcher) Run(ctx context.Context) {
	for {
		select {
		case event, ok := <-tw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				tw.trigger()
			}
		case err, ok := <-tw.watcher.Errors:
			if !ok {
				return
			}
			if tw.log != nil {
				tw.log.Warn("template watcher error", "error", err)
			}
		case <-ctx.Done():
			tw.mu.Lock()
			if tw.timer != nil {
				tw.timer.Stop()
			}
			tw.mu.Unlock()
			return
		}
	}
}

func (tw *TemplateWatcher) trigger() {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timer != nil {
		tw.timer.Stop()
	}
	tw.timer = time.AfterFunc(tw.debounce, tw.onChange)
}

// Close releases the underlying filesystem watch.
func (tw *TemplateWatcher) Close() error {
	return tw.watcher.Close()
}
