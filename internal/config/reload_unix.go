//go:build !windows

package config

import (
	"os"
	"os/signal"
	"syscall"
)

// registerSignalHandler wires SIGHUP to a config reload, the conventional
// way to apply provider rate-limit changes without waiting for the file
// watcher.
func (r *Reloader) registerSignalHandler() {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	go func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-r.stopCh:
				return
			case <-hup:
				r.logger.Info("reloading config on SIGHUP")
				r.Reload()
			}
		}
	}()
}
