package library

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes the storage root. The root is exclusively owned by the
// agent, so any write the export pipeline did not announce via Expect is a
// foreign writer and gets logged.
type Watcher struct {
	root   string
	logger *slog.Logger

	mu       sync.Mutex
	expected map[string]struct{}
}

func NewWatcher(root string, logger *slog.Logger) *Watcher {
	return &Watcher{
		root:     root,
		logger:   logger,
		expected: make(map[string]struct{}),
	}
}

// Expect registers a path the agent is about to create, so its events are
// not flagged as foreign writes.
func (w *Watcher) Expect(path string) {
	w.mu.Lock()
	w.expected[path] = struct{}{}
	w.mu.Unlock()
}

// Run watches the root until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.root); err != nil {
		return err
	}
	w.logger.Info("library watcher started", "root", w.root)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("library watcher stopping")
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("library watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) != 0 && !w.isExpected(event.Name) {
		w.logger.Warn("unexpected write into library root, the root is exclusively owned by the agent",
			"path", event.Name, "op", event.Op.String())
	}

	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		w.forget(event.Name)
	}
}

func (w *Watcher) isExpected(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.expected[path]
	return ok
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	delete(w.expected, path)
	w.mu.Unlock()
}
