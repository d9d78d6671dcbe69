//go:build windows

package config

// registerSignalHandler is a no-op: SIGHUP does not exist on Windows, so
// config reload relies on the file watcher alone.
func (r *Reloader) registerSignalHandler() {
	r.logger.Info("config reload via file watcher only (no SIGHUP on this platform)")
}
