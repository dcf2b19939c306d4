package flow

import "sync"

// sessionLock is one session's mutex plus the number of holders and
// waiters keeping it alive.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// SessionLocks serializes mutation per session id. Both the inbound
// event path and the matchmaker must go through the same instance so
// exactly one transition is in flight per session at a time. Entries
// are dropped once the last holder unlocks, so the set does not grow
// with the total number of sessions ever seen.
type SessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

// NewSessionLocks creates an empty lock set.
func NewSessionLocks() *SessionLocks {
	return &SessionLocks{
		locks: make(map[string]*sessionLock),
	}
}

// Lock acquires the mutex for the given session id, creating it on
// first use, and returns the unlock function.
func (l *SessionLocks) Lock(id string) func() {
	l.mu.Lock()
	e, ok := l.locks[id]
	if !ok {
		e = &sessionLock{}
		l.locks[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
