package credential

import (
	"sync"
	"time"
)

const (
	DefaultMaxFailures = 5
	DefaultWindow      = 15 * time.Minute

	// DefaultSweepSize is the number of identities held before Failure
	// clears out the expired ones.
	DefaultSweepSize = 1024
)

type attempts struct {
	failures    int
	lastFailure time.Time
}

// Tracker counts failed logins per identity.  An identity with MaxFailures
// or more failures, the last within Window, is locked.  The counts are held
// in memory, so they are lost on restart and not shared between instances
// of the server.
type Tracker struct {
	MaxFailures int
	Window      time.Duration
	Now         func() time.Time // The clock.  Tests can replace it.
	SweepSize   int              // Failure sweeps expired entries when the map reaches this size.

	mu       sync.Mutex
	attempts map[string]*attempts
}

// NewTracker creates a Tracker.  Zero values are replaced by the defaults.
func NewTracker(maxFailures int, window time.Duration) *Tracker {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{
		MaxFailures: maxFailures,
		Window:      window,
		Now:         time.Now,
		SweepSize:   DefaultSweepSize,
		attempts:    make(map[string]*attempts),
	}
}

// Locked reports whether the identity is locked out.
func (t *Tracker) Locked(identity string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	a := t.current(identity)
	return a != nil && a.failures >= t.MaxFailures
}

// Failure records a failed login.
func (t *Tracker) Failure(identity string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a := t.current(identity)
	if a == nil {
		if t.SweepSize > 0 && len(t.attempts) >= t.SweepSize {
			t.sweep()
		}
		a = &attempts{}
		t.attempts[identity] = a
	}
	a.failures++
	a.lastFailure = t.Now()
}

// Success clears the failures of the identity.
func (t *Tracker) Success(identity string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.attempts, identity)
}

// Failures returns the number of recent failures of the identity.
func (t *Tracker) Failures(identity string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	a := t.current(identity)
	if a == nil {
		return 0
	}
	return a.failures
}

// current returns the entry for the identity, dropping it if the last
// failure is outside the window.  The caller must hold the lock.
func (t *Tracker) current(identity string) *attempts {
	a, ok := t.attempts[identity]
	if !ok {
		return nil
	}
	if t.Now().Sub(a.lastFailure) > t.Window {
		delete(t.attempts, identity)
		return nil
	}
	return a
}

// sweep drops every entry whose last failure is outside the window.  The
// caller must hold the lock.
func (t *Tracker) sweep() {
	now := t.Now()
	for identity, a := range t.attempts {
		if now.Sub(a.lastFailure) > t.Window {
			delete(t.attempts, identity)
		}
	}
}
