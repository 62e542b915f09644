package engine

import "sync"

// instanceLocks serializes work per instance id. No two advance()
// calls for the same instance may interleave; distinct instances share
// nothing and proceed concurrently.
type instanceLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newInstanceLocks() *instanceLocks {
	return &instanceLocks{m: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for id and returns its unlock function.
// Locks are never removed; the set of instance ids is bounded by the
// instances retained in the store.
func (l *instanceLocks) lock(id string) func() {
	l.mu.Lock()
	m, ok := l.m[id]
	if !ok {
		m = &sync.Mutex{}
		l.m[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
