package history

import "sync"

// tableLocks serializes actions on the same table within this process.
// Entries are dropped once nobody holds or waits for them.
type tableLocks struct {
	mu    sync.Mutex
	locks map[string]*tableLock
}

type tableLock struct {
	mu   sync.Mutex
	refs int
}

func newTableLocks() *tableLocks {
	return &tableLocks{locks: map[string]*tableLock{}}
}

func (l *tableLocks) lock(key string) func() {
	l.mu.Lock()
	tl, ok := l.locks[key]
	if !ok {
		tl = &tableLock{}
		l.locks[key] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.mu.Lock()
	return func() {
		tl.mu.Unlock()
		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
