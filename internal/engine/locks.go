package engine

import (
	"sync"

	"github.com/google/uuid"
)

// executionLocks serializes transitions per execution id. The stage-status
// compare-and-swap in the repository is the cross-process arbiter; this lock
// keeps in-process callers ordered so the CAS stays a guard, not a hot path.
type executionLocks struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newExecutionLocks() *executionLocks {
	return &executionLocks{entries: make(map[uuid.UUID]*lockEntry)}
}

// Lock blocks until the per-execution mutex is held and returns its unlock
// function. Entries are refcounted so the map does not grow with every
// execution ever touched.
func (l *executionLocks) Lock(id uuid.UUID) func() {
	l.mu.Lock()
	entry, ok := l.entries[id]
	if !ok {
		entry = &lockEntry{}
		l.entries[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, id)
		}
		l.mu.Unlock()
	}
}
