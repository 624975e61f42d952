package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/strandtui/strand/pkg/observability"
)

// WatchLogLevel re-applies the log level whenever the config file changes.
// It returns after installing the watcher; the watch goroutine exits with
// the context. Editors replace files rather than rewrite them, so the parent
// directory is watched and events are filtered by name.
func WatchLogLevel(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}

	log := observability.NewLogger("config")
	target := filepath.Clean(path)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					log.Warn("config reload failed", "error", err)
					continue
				}
				level, err := ParseLevel(cfg.LogLevel)
				if err != nil {
					log.Warn("config reload failed", "error", err)
					continue
				}
				observability.SetLevel(level)
				log.Info("log level reloaded", "level", cfg.LogLevel)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("config watch error", "error", err)
			}
		}
	}()
	return nil
}
