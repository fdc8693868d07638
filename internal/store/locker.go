package store

import "sync"

// idLocker hands out one mutex per conversation id so writers serialise
// per conversation while unrelated conversations proceed independently.
// Entries are reference counted and removed once the last holder releases.
//
// Thread Safety:
// idLocker is safe for concurrent use.
type idLocker struct {
	mu    sync.Mutex
	locks map[string]*idLock
}

type idLock struct {
	mu   sync.Mutex
	refs int
}

func newIDLocker() *idLocker {
	return &idLocker{locks: make(map[string]*idLock)}
}

// lock blocks until the id's mutex is held and returns the release func.
func (l *idLocker) lock(id string) func() {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &idLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
