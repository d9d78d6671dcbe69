// Package keylock provides per-key mutual exclusion with bounded acquisition
// waits and idle-entry reclamation. One in-flight generation batch per owner
// is enforced by acquiring the owner's lock; a background sweep removes
// entries that no one holds or waits on, bounding map growth under churn.
package keylock

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/salephoto/genflow-core/internal/fault"
	"github.com/salephoto/genflow-core/internal/metrics"
)

// Config holds the lock policy.
type Config struct {
	// AcquireTimeout bounds how long Acquire blocks before failing fast.
	AcquireTimeout time.Duration

	// IdleTTL is how long an unused entry survives before the sweep
	// removes it.
	IdleTTL time.Duration

	// SweepInterval is how often the background sweep runs.
	SweepInterval time.Duration
}

// entry is one key's lock. refs counts holders plus waiters; the sweep never
// removes an entry with refs > 0, so a held or contended lock cannot vanish.
type entry struct {
	sem      chan struct{} // capacity 1; full means held
	refs     int
	lastUsed time.Time
}

// Manager grants at-most-one-concurrent-operation-per-key mutual exclusion.
// Entry creation, release bookkeeping, and sweeping all happen under the
// same mutex, so creation and reaping cannot race into a lost lock.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry

	cfg    Config
	logger *slog.Logger
	stopCh chan struct{}
}

// New creates a Manager and starts its background sweep goroutine.
// Call Stop to terminate the sweep.
func New(cfg Config, logger *slog.Logger) *Manager {
	m := &Manager{
		entries: make(map[string]*entry),
		cfg:     cfg,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
	go m.sweep()
	return m
}

// Stop terminates the background sweep goroutine.
func (m *Manager) Stop() {
	close(m.stopCh)
}

// Acquire obtains the lock for key, blocking up to the configured acquire
// timeout (or until ctx is cancelled, whichever comes first). On success the
// returned Guard must be released; Release is idempotent and safe on every
// exit path.
func (m *Manager) Acquire(ctx context.Context, key string) (*Guard, error) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		m.entries[key] = e
		metrics.LockEntries.Set(float64(len(m.entries)))
	}
	e.refs++
	e.lastUsed = time.Now()
	m.mu.Unlock()

	timer := time.NewTimer(m.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
		return &Guard{m: m, e: e, key: key}, nil
	case <-timer.C:
		m.unref(e)
		metrics.LockTimeouts.Inc()
		return nil, fault.New(fault.KindLockTimeout, "owner "+key+" already has an operation in progress")
	case <-ctx.Done():
		m.unref(e)
		metrics.LockTimeouts.Inc()
		return nil, fault.Wrap(fault.KindLockTimeout, "lock acquisition cancelled for owner "+key, ctx.Err())
	}
}

// Len returns the number of entries currently in the lock map.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Manager) unref(e *entry) {
	m.mu.Lock()
	e.refs--
	e.lastUsed = time.Now()
	m.mu.Unlock()
}

// sweep periodically removes entries that have been idle longer than the
// TTL and have no holder or waiter.
func (m *Manager) sweep() {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			removed := 0
			m.mu.Lock()
			for key, e := range m.entries {
				if e.refs == 0 && time.Since(e.lastUsed) > m.cfg.IdleTTL {
					delete(m.entries, key)
					removed++
				}
			}
			remaining := len(m.entries)
			m.mu.Unlock()

			if removed > 0 {
				metrics.LockEntries.Set(float64(remaining))
				metrics.LockSweepRemoved.Add(float64(removed))
				m.logger.Debug("lock sweep removed idle entries",
					"removed", removed,
					"remaining", remaining,
				)
			}
		case <-m.stopCh:
			return
		}
	}
}

// Guard represents a held lock. Release is idempotent.
type Guard struct {
	m    *Manager
	e    *entry
	key  string
	once sync.Once
}

// Release frees the lock. Safe to call multiple times and on every exit path.
func (g *Guard) Release() {
	g.once.Do(func() {
		<-g.e.sem
		g.m.unref(g.e)
	})
}
