package session

import "sync"

// keyedLocks is a set of per-key try-locks. A key is held between tryLock
// and unlock; a second tryLock on a held key fails immediately instead of
// blocking, which is what turns SESSION_BUSY into a fast rejection.
type keyedLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{held: make(map[string]struct{})}
}

// tryLock acquires key, reporting false when it is already held.
func (l *keyedLocks) tryLock(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

// unlock releases key. Releasing an unheld key is a no-op.
func (l *keyedLocks) unlock(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}
