package lifecycle

import "sync"

// callLocks hands out one mutex per call id so event processing for a single
// call is serialized while unrelated calls proceed in parallel. Entries are
// reference counted and removed when the last holder releases, so the map
// does not grow with call history.

type callLocks struct {
	mu sync.Mutex
	m  map[string]*callLock
}

type callLock struct {
	mu   sync.Mutex
	refs int
}

func (l *callLocks) init() {
	l.m = map[string]*callLock{}
}

// acquire locks the mutex for callID and returns the matching release func.
// Release must be called exactly once, on every exit path.
func (l *callLocks) acquire(callID string) func() {
	l.mu.Lock()
	cl, ok := l.m[callID]
	if !ok {
		cl = &callLock{}
		l.m[callID] = cl
	}
	cl.refs++
	l.mu.Unlock()

	cl.mu.Lock()
	return func() {
		cl.mu.Unlock()
		l.mu.Lock()
		cl.refs--
		if cl.refs == 0 {
			delete(l.m, callID)
		}
		l.mu.Unlock()
	}
}
