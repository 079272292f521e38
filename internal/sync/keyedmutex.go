package sync

import (
	stdsync "sync"
)

// keyedMutex provides non-blocking per-key mutual exclusion for executor
// operations. The persisted is_syncing flag is the cross-restart safeguard;
// this map is the fast in-process path.
type keyedMutex struct {
	mu   stdsync.Mutex
	held map[string]bool
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{held: make(map[string]bool)}
}

// TryLock attempts to acquire the lock for key without blocking.
// Returns false when another operation holds it.
func (m *keyedMutex) TryLock(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.held[key] {
		return false
	}

	m.held[key] = true

	return true
}

// Unlock releases the lock for key.
func (m *keyedMutex) Unlock(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.held, key)
}
