package mandate

import (
	"sync"

	"github.com/xraph/mandate/authority"
)

// addressLocks serializes operations on the same record address while
// letting different addresses proceed in parallel. Entries are reference
// counted and removed once no caller holds or waits on them.
type addressLocks struct {
	mu    sync.Mutex
	locks map[authority.Identity]*addressLock
}

type addressLock struct {
	mu   sync.Mutex
	refs int
}

func newAddressLocks() *addressLocks {
	return &addressLocks{locks: make(map[authority.Identity]*addressLock)}
}

// lock acquires the lock for addr and returns its release function.
func (l *addressLocks) lock(addr authority.Identity) func() {
	l.mu.Lock()
	al, ok := l.locks[addr]
	if !ok {
		al = &addressLock{}
		l.locks[addr] = al
	}
	al.refs++
	l.mu.Unlock()

	al.mu.Lock()
	return func() {
		al.mu.Unlock()

		l.mu.Lock()
		al.refs--
		if al.refs == 0 {
			delete(l.locks, addr)
		}
		l.mu.Unlock()
	}
}

// size returns the number of addresses currently tracked.
func (l *addressLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
