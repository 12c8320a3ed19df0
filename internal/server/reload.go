package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay is the quiet period after the last change before a reload.
var debounceDelay = 500 * time.Millisecond

// ReloadFunc recompiles and installs the policy.
type ReloadFunc func() error

// Reloader triggers a policy reload when a watched policy or profile file
// changes. It watches parent directories, so editors that save by rename
// and policy files created after startup are both seen. Reloads run on the
// Run goroutine, one at a time.
type Reloader struct {
	watcher *fsnotify.Watcher
	reload  ReloadFunc
	logger  *slog.Logger

	// targets maps a watched file to false and a watched directory (every
	// file inside matches) to true.
	targets map[string]bool
}

// NewReloader watches paths. A directory path matches any file inside it.
// A file path is watched even if the file does not exist yet, as long as
// its directory does; other paths are skipped.
func NewReloader(reload ReloadFunc, paths []string, logger *slog.Logger) (*Reloader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	r := &Reloader{
		watcher: w,
		reload:  reload,
		logger:  logger.With("component", "reload"),
		targets: make(map[string]bool),
	}

	for _, p := range paths {
		if p == "" {
			continue
		}
		p = filepath.Clean(p)
		dir, isDir := p, true
		if info, err := os.Stat(p); err != nil || !info.IsDir() {
			dir, isDir = filepath.Dir(p), false
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			r.logger.Debug("not watching, directory missing", "path", p)
			continue
		}
		if err := w.Add(dir); err != nil {
			w.Close()
			return nil, fmt.Errorf("failed to watch %q: %w", dir, err)
		}
		r.targets[p] = isDir
	}
	return r, nil
}

// Watched returns the number of files and directories being tracked.
func (r *Reloader) Watched() int {
	return len(r.targets)
}

func (r *Reloader) relevant(name string) bool {
	name = filepath.Clean(name)
	if _, ok := r.targets[name]; ok {
		return true
	}
	return r.targets[filepath.Dir(name)]
}

// Run reloads after each burst of changes until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	timer := time.NewTimer(debounceDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if !r.relevant(ev.Name) {
				continue
			}
			switch {
			case ev.Has(fsnotify.Write), ev.Has(fsnotify.Create), ev.Has(fsnotify.Rename):
				timer.Reset(debounceDelay)
			case ev.Has(fsnotify.Remove):
				r.logger.Warn("policy file removed, keeping active policy", "path", ev.Name)
			}

		case <-timer.C:
			if err := r.reload(); err != nil {
				r.logger.Error("hot-reload failed, keeping active policy", "error", err)
				continue
			}
			r.logger.Info("hot-reload: policy reloaded")

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("file watcher error", "error", err)
		}
	}
}
