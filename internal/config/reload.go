package config

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Editors and deploy tooling emit several fsnotify events per save; reloads
// within this window are coalesced into one.
const reloadDebounce = 300 * time.Millisecond

// Reloader holds the active config and swaps in new versions when the file
// changes on disk (fsnotify) or the process receives SIGHUP (Unix only, see
// reload_unix.go). An invalid file never replaces a valid running config.
type Reloader struct {
	mu        sync.RWMutex
	cfg       *Config
	path      string
	logger    *slog.Logger
	callbacks []func(*Config)
	watch     *fsnotify.Watcher
	stopCh    chan struct{}
}

// NewReloader wraps the initially loaded config for the given file path.
func NewReloader(path string, initial *Config, logger *slog.Logger) *Reloader {
	return &Reloader{
		cfg:    initial,
		path:   path,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Current returns the active configuration.
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// OnReload registers fn to run with each successfully reloaded config.
func (r *Reloader) OnReload(fn func(*Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, fn)
}

// Start begins watching the config file and registers the SIGHUP handler.
// A watcher setup failure disables file watching but leaves SIGHUP reloads
// working.
func (r *Reloader) Start() {
	w, err := fsnotify.NewWatcher()
	if err == nil {
		err = w.Add(r.path)
	}
	if err != nil {
		r.logger.Error("config file watching disabled", "path", r.path, "error", err)
		if w != nil {
			w.Close()
		}
	} else {
		r.watch = w
		r.logger.Info("watching config file", "path", r.path)
		go r.watchLoop()
	}

	r.registerSignalHandler()
}

// Stop shuts down the watcher and signal handler goroutines.
func (r *Reloader) Stop() {
	close(r.stopCh)
	if r.watch != nil {
		r.watch.Close()
	}
}

// Reload re-reads the config file. On success the new config is swapped in
// and every OnReload callback runs with it; on failure the running config
// stays active. Returns whether the swap happened.
func (r *Reloader) Reload() bool {
	next, err := Load(r.path)
	if err != nil {
		r.logger.Error("config reload rejected, keeping active config",
			"path", r.path, "error", err)
		return false
	}

	r.mu.Lock()
	prev := r.cfg
	r.cfg = next
	callbacks := make([]func(*Config), len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	r.logChanges(prev, next)
	for _, fn := range callbacks {
		fn(next)
	}

	r.logger.Info("config reloaded", "path", r.path)
	return true
}

func (r *Reloader) watchLoop() {
	var pending *time.Timer

	for {
		select {
		case <-r.stopCh:
			if pending != nil {
				pending.Stop()
			}
			return
		case event, ok := <-r.watch.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(reloadDebounce, func() { r.Reload() })
		case err, ok := <-r.watch.Errors:
			if !ok {
				return
			}
			r.logger.Error("config watcher error", "error", err)
		}
	}
}

// logChanges summarizes the operationally interesting differences between
// the outgoing and incoming config.
func (r *Reloader) logChanges(prev, next *Config) {
	if len(prev.Providers) != len(next.Providers) {
		r.logger.Info("provider count changed",
			"old", len(prev.Providers),
			"new", len(next.Providers),
		)
	}

	for _, np := range next.Providers {
		op, ok := prev.Provider(np.Name)
		if !ok {
			continue
		}
		if op.RequestsPerSecond != np.RequestsPerSecond || op.Burst != np.Burst {
			r.logger.Info("provider rate limit changed",
				"provider", np.Name,
				"old_rps", op.RequestsPerSecond,
				"new_rps", np.RequestsPerSecond,
				"old_burst", op.Burst,
				"new_burst", np.Burst,
			)
		}
	}

	if prev.Auth.Enabled != next.Auth.Enabled {
		r.logger.Info("auth enabled changed",
			"old", prev.Auth.Enabled,
			"new", next.Auth.Enabled,
		)
	}
}
