package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// backupStamp is collision-safe within a millisecond. Batch completions can
// log bursts large enough to rotate twice in one second.
const backupStamp = "20060102T150405.000"

// RotatingWriter is an io.WriteCloser that rotates its file by size. A write
// that would push the file past the limit first renames it to a timestamped
// backup and reopens a fresh file. Backups beyond maxBackups, and backups
// older than maxAgeDays, are pruned synchronously on each rotation.
type RotatingWriter struct {
	mu         sync.Mutex
	file       *os.File
	written    int64
	path       string
	limit      int64
	maxBackups int
	maxAgeDays int
}

// NewRotatingWriter opens (creating if needed) the log file at path.
func NewRotatingWriter(path string, maxSizeMB, maxBackups, maxAgeDays int) (*RotatingWriter, error) {
	rw := &RotatingWriter{
		path:       path,
		limit:      int64(maxSizeMB) << 20,
		maxBackups: maxBackups,
		maxAgeDays: maxAgeDays,
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *RotatingWriter) open() error {
	f, err := os.OpenFile(rw.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	rw.file = f
	rw.written = info.Size()
	return nil
}

func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.written+int64(len(p)) > rw.limit {
		if err := rw.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := rw.file.Write(p)
	rw.written += int64(n)
	return n, err
}

// Close closes the current log file. The writer must not be used afterwards.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		return nil
	}
	err := rw.file.Close()
	rw.file = nil
	return err
}

// rotate renames the active file to a timestamped backup, reopens a fresh
// file, and prunes stale backups. Held under rw.mu.
func (rw *RotatingWriter) rotate() error {
	if rw.file != nil {
		rw.file.Close()
	}

	base, ext := splitLogPath(rw.path)
	backup := fmt.Sprintf("%s-%s%s", base, time.Now().UTC().Format(backupStamp), ext)
	os.Rename(rw.path, backup) //nolint:errcheck

	if err := rw.open(); err != nil {
		return err
	}

	rw.prune()
	return nil
}

// prune removes backups past the retention count and backups older than the
// age cutoff. Backup names sort lexicographically by timestamp, so the head
// of the sorted list is always the oldest.
func (rw *RotatingWriter) prune() {
	dir := filepath.Dir(rw.path)
	base, ext := splitLogPath(filepath.Base(rw.path))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	prefix := base + "-"
	var backups []string
	for _, e := range entries {
		name := e.Name()
		if name == filepath.Base(rw.path) {
			continue
		}
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ext) {
			backups = append(backups, name)
		}
	}
	sort.Strings(backups)

	for len(backups) > rw.maxBackups {
		os.Remove(filepath.Join(dir, backups[0])) //nolint:errcheck
		backups = backups[1:]
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -rw.maxAgeDays)
	for _, name := range backups {
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ext)
		ts, err := time.Parse(backupStamp, stamp)
		if err != nil {
			continue
		}
		if ts.Before(cutoff) {
			os.Remove(filepath.Join(dir, name)) //nolint:errcheck
		}
	}
}

// splitLogPath splits a log path into its extension-less base and extension,
// defaulting the extension to ".log".
func splitLogPath(path string) (base, ext string) {
	ext = filepath.Ext(path)
	base = strings.TrimSuffix(path, ext)
	if ext == "" {
		ext = ".log"
	}
	return base, ext
}
