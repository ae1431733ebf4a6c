package config

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"

	pcperrors "github.com/alxayo/go-rtmp/internal/errors"
)

// Watcher reloads a Config from disk whenever its backing file changes,
// grounded in the teacher's azure/blob-sidecar and cmd/blob-sidecar
// submodules' use of github.com/fsnotify/fsnotify — adopted here so edits
// to username/password/local_address take effect without a restart
// (SPEC_FULL.md §6 "Config hot-reload").
type Watcher struct {
	path   string
	fsw    *fsnotify.Watcher
	logger *slog.Logger
	done   chan struct{}
}

// Watch starts watching path and invokes onReload with each successfully
// re-parsed Config. Parse failures are logged and otherwise ignored — a
// transient partial write (most editors) must not crash a running node.
func Watch(path string, logger *slog.Logger, onReload func(*Config)) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, pcperrors.NewConfigError("config.Watch", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, pcperrors.NewConfigError("config.Watch", err)
	}
	w := &Watcher{path: path, fsw: fsw, logger: logger, done: make(chan struct{})}
	go w.run(onReload)
	return w, nil
}

func (w *Watcher) run(onReload func(*Config)) {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn("config reload failed, keeping previous config", "path", w.path, "error", err)
				continue
			}
			w.logger.Info("config reloaded", "path", w.path)
			onReload(cfg)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}
