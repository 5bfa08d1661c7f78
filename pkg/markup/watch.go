package markup

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher invalidates cached templates when their files change.
type Watcher struct {
	dir     DirSource
	cache   *Cache
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	onEvent func(key string)
}

// NewWatcher watches every directory below dir.Dir, including directories
// created while it runs.
func NewWatcher(dir DirSource, cache *Cache, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	err = filepath.WalkDir(dir.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
	if err != nil {
		_ = fw.Close()
		return nil, err
	}
	return &Watcher{
		dir:     dir,
		cache:   cache,
		watcher: fw,
		logger:  logger.With("component", "markup_watcher"),
	}, nil
}

// OnInvalidate registers a callback run after a key is invalidated.
// It must be set before Run.
func (w *Watcher) OnInvalidate(fn func(key string)) {
	w.onEvent = fn
}

// Run processes file events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("event overflow, purging markup cache")
				w.cache.Purge()
				continue
			}
			w.logger.Error("watch error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
		!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}
	if ev.Has(fsnotify.Create) {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			w.addTree(ev.Name)
			return
		}
	}
	w.invalidate(ev.Name, ev.Op.String())
}

// addTree watches a directory created after start. Templates written into
// it before the watch was in place are invalidated as well.
func (w *Watcher) addTree(root string) {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		w.invalidate(path, fsnotify.Create.String())
		return nil
	})
	if err != nil {
		w.logger.Warn("watch new directory failed", "dir", root, "error", err)
		return
	}
	w.logger.Debug("watching new directory", "dir", root)
}

func (w *Watcher) invalidate(path, op string) {
	key, ok := w.dir.KeyForPath(path)
	if !ok {
		return
	}
	w.cache.Invalidate(key)
	w.logger.Info("template changed", "key", key, "op", op)
	if w.onEvent != nil {
		w.onEvent(key)
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
