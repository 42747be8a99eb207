package migration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DistributedLock provides mutual exclusion for migration operations across
// multiple processes or nodes. Acquisition is always bounded by the
// context; implementations never block past its deadline.
type DistributedLock interface {
	// Acquire obtains the lock for the given key, blocking until acquired
	// or the context expires. The returned release function must be called
	// to release the lock and is safe to call more than once.
	Acquire(ctx context.Context, key string) (release func(), err error)
	// TryAcquire attempts to acquire the lock without blocking. Returns
	// acquired=false when another holder has it.
	TryAcquire(ctx context.Context, key string) (release func(), acquired bool, err error)
}

// AdvisoryLock implements DistributedLock using PostgreSQL session-scoped
// advisory locks. Each acquisition pins one pool connection for the life
// of the lock, because pg_advisory_unlock only releases a lock taken on
// the same session.
type AdvisoryLock struct {
	pool *pgxpool.Pool

	// PollInterval is how often a blocked Acquire re-attempts
	// pg_try_advisory_lock. Defaults to 100ms.
	PollInterval time.Duration
}

// NewAdvisoryLock creates an AdvisoryLock over the given pool.
func NewAdvisoryLock(pool *pgxpool.Pool) *AdvisoryLock {
	return &AdvisoryLock{pool: pool, PollInterval: 100 * time.Millisecond}
}

// Acquire obtains the advisory lock for the key, polling until acquired or
// the context expires. Context expiry maps to ErrLockTimeout.
func (l *AdvisoryLock) Acquire(ctx context.Context, key string) (func(), error) {
	release, acquired, err := l.TryAcquire(ctx, key)
	if err != nil {
		return nil, err
	}
	if acquired {
		return release, nil
	}

	interval := l.PollInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lock %q: %w", key, ErrLockTimeout)
		case <-ticker.C:
			release, acquired, err := l.TryAcquire(ctx, key)
			if err != nil {
				return nil, err
			}
			if acquired {
				return release, nil
			}
		}
	}
}

// TryAcquire attempts a single pg_try_advisory_lock on a pinned connection.
func (l *AdvisoryLock) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	lockID := hashLockKey(key)

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection for lock %q: %w", key, err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("pg_try_advisory_lock(%d): %w", lockID, err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// Unlock must run on the session that took the lock, even if
			// the caller's context is already cancelled.
			_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
			conn.Release()
		})
	}
	return release, true, nil
}

// InMemoryLock implements DistributedLock for tests and single-process
// deployments.
type InMemoryLock struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	held     bool
	released chan struct{} // signals a waiter when the lock frees up
}

// NewInMemoryLock creates an empty InMemoryLock.
func NewInMemoryLock() *InMemoryLock {
	return &InMemoryLock{locks: make(map[string]*lockEntry)}
}

func (l *InMemoryLock) entry(key string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[key]
	if !ok {
		e = &lockEntry{released: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	return e
}

// Acquire obtains the lock, blocking until acquired or the context expires.
func (l *InMemoryLock) Acquire(ctx context.Context, key string) (func(), error) {
	e := l.entry(key)
	for {
		release, acquired, err := l.TryAcquire(ctx, key)
		if err != nil {
			return nil, err
		}
		if acquired {
			return release, nil
		}
		select {
		case <-e.released:
		case <-ctx.Done():
			return nil, fmt.Errorf("lock %q: %w", key, ErrLockTimeout)
		}
	}
}

// TryAcquire attempts to acquire the lock without blocking.
func (l *InMemoryLock) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("lock %q: %w", key, ErrLockTimeout)
	}

	e := l.entry(key)
	l.mu.Lock()
	if e.held {
		l.mu.Unlock()
		return nil, false, nil
	}
	e.held = true
	l.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			e.held = false
			l.mu.Unlock()
			select {
			case e.released <- struct{}{}:
			default:
			}
		})
	}
	return release, true, nil
}

// LockKeyForPlugin derives the advisory-lock key for a plugin's migrations.
func LockKeyForPlugin(plugin string) string {
	return "plugin_migration:" + plugin
}

// hashLockKey produces a stable int64 hash from a string key for use with
// pg_advisory_lock, using FNV-1a over a 63-bit space. With the handful of
// plugins any one deployment installs, the birthday-bound collision
// probability is negligible (~n²/2⁶⁴).
func hashLockKey(key string) int64 {
	var h uint64 = 14695981039346656037 // FNV offset basis
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= 1099511628211 // FNV prime
	}
	return int64(h & 0x7FFFFFFFFFFFFFFF) //nolint:gosec // intentional truncation for advisory lock key
}
