package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Config from its source file whenever that file is
// written, and hands the new value to an onChange callback. The
// daemon's socket path and store directory are established once at
// startup and are not part of the hot-reloadable surface (spec §9.1);
// callers typically only act on the monitor-facing fields of the
// reloaded Config.
type Watcher struct {
	path      string
	watcher   *fsnotify.Watcher
	onChange  func(*Config)
}

// NewWatcher creates a Watcher for the config file at path. If path is
// empty, Watch is a no-op (there is nothing to watch).
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	if path == "" {
		return &Watcher{onChange: onChange}, nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{path: path, watcher: fw, onChange: onChange}, nil
}

// Watch starts watching the config file's directory until ctx is
// done. It blocks until then, so callers should run it in a goroutine.
func (w *Watcher) Watch(ctx context.Context) error {
	if w.watcher == nil {
		<-ctx.Done()
		return nil
	}
	defer w.watcher.Close()

	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				slog.Warn("config reload failed, keeping previous config", "path", w.path, "error", err)
				continue
			}
			slog.Info("config reloaded", "path", w.path)
			w.onChange(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}
