package service

import "sync"

// keyedMutex hands out one mutex per key and drops it once nobody holds or
// waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

// Lock blocks until key is free and returns the matching unlock func.
func (km *keyedMutex) Lock(key string) func() {
	km.mu.Lock()
	l, ok := km.locks[key]
	if !ok {
		l = &refLock{}
		km.locks[key] = l
	}
	l.refs++
	km.mu.Unlock()

	l.Lock()

	return func() {
		l.Unlock()

		km.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(km.locks, key)
		}
		km.mu.Unlock()
	}
}

func voterElectionKey(voterID, electionID string) string {
	return voterID + "\x00" + electionID
}
