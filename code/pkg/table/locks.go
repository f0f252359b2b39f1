package table

import "sync"

// Locks hands out one mutex per table name.  Holding the lock for the whole
// of a read-modify-write cycle stops two requests in this process from
// overwriting each other's changes.  It does nothing for writers in other
// processes.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocks creates an empty set of locks.
func NewLocks() *Locks {
	return &Locks{locks: make(map[string]*sync.Mutex)}
}

// Lock locks the named table and returns the function that unlocks it.
func (l *Locks) Lock(name string) func() {
	l.mu.Lock()
	m, ok := l.locks[name]
	if !ok {
		m = &sync.Mutex{}
		l.locks[name] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
