// Package keyed provides a mutex that serializes work per string key.
package keyed

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Mutex hands out one lock per key. Entries are dropped once no goroutine
// holds or waits on them, so the table does not grow with every key seen.
type Mutex struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New returns an empty keyed mutex.
func New() *Mutex {
	return &Mutex{entries: make(map[string]*entry)}
}

// Lock blocks until the lock for key is held and returns its unlock function.
func (m *Mutex) Lock(key string) func() {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		m.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(m.entries, key)
		}
		m.mu.Unlock()
	}
}

// Len reports how many keys currently have holders or waiters.
func (m *Mutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
