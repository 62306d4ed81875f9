// Package memory provides in-process implementations of coordination
// primitives for single-node and test deployments. Multi-node deployments use
// the redis equivalents.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avolkov/arbengine/internal/domain"
)

type lockEntry struct {
	expiry time.Time
	gen    uint64
}

// LockManager is a process-local lock keyed by string. Acquire is
// non-blocking: a held key returns ErrLockHeld immediately. Locks expire
// after their TTL in case an unlock is lost; a late unlock from an expired
// holder never releases a lock acquired since (same holder-token semantics
// as the redis lock's Lua unlock).
type LockManager struct {
	mu    sync.Mutex
	locks map[string]lockEntry
	gen   uint64
}

// NewLockManager returns an empty lock manager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]lockEntry)}
}

// Acquire takes the lock for key and returns an unlock closure. The closure
// only releases the lock if this acquisition still holds it.
func (m *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, held := m.locks[key]; held && now.Before(entry.expiry) {
		return nil, fmt.Errorf("lock %s: %w", key, domain.ErrLockHeld)
	}
	m.gen++
	gen := m.gen
	m.locks[key] = lockEntry{expiry: now.Add(ttl), gen: gen}

	return func() {
		m.mu.Lock()
		if entry, held := m.locks[key]; held && entry.gen == gen {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
