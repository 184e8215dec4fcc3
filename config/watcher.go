package config

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

func waitForChange(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-watcher.Errors:
		return err
	case <-watcher.Events:
	}
	// Editors write in several steps; let the file settle.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Second / 10):
	}
	return ctx.Err()
}

// Watch calls fn with the reloaded configuration every time the file at path
// changes, until ctx is done. Files that fail to load or validate are logged
// and skipped.
func Watch(ctx context.Context, path string, fn func(*Config)) {
	for ctx.Err() == nil {
		if err := waitForChange(ctx, path); err != nil {
			if ctx.Err() == nil {
				log.Errorf("Error waiting for config file change: %v", err)
				// The file may be mid-replace; retry after a pause.
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
			}
			continue
		}

		c, err := Load(path)
		if err != nil {
			log.Errorf("Failed to load new config: %v", err)
			continue
		}
		log.Debugf("Reloaded configuration: %v", c.Dump())
		fn(c)
	}
}

// ApplyLive applies the settings of next that take effect without a restart,
// i.e. the log level, and warns about the others.
func ApplyLive(cur, next *Config) {
	if next.Log != cur.Log {
		if l, err := next.Level(); err == nil {
			log.SetLevel(l)
			log.Warnf("Log level changed to %s", next.Log)
			cur.Log = next.Log
		}
	}
	rest := *next
	rest.Log = cur.Log
	if rest != *cur {
		log.Warn("Configuration changed, restart to apply settings other than the log level")
	}
}
