package orchestrator

import "sync"

// runLocks serialises coordination runs per conversation id so two events
// on the same thread never interleave their writes. Entries are reference
// counted and dropped once the last holder releases, keeping the map
// bounded by in-flight conversations.
type runLocks struct {
	mu    sync.Mutex
	locks map[string]*runLock
}

type runLock struct {
	mu   sync.Mutex
	refs int
}

func newRunLocks() *runLocks {
	return &runLocks{locks: make(map[string]*runLock)}
}

// lock blocks until the conversation's mutex is held and returns the
// release func.
func (l *runLocks) lock(id string) func() {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &runLock{}
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
