package session

import "sync"

// Locker serializes work per phone number so two concurrently delivered
// messages from the same sender cannot interleave their session writes.
// Entries are reference counted and removed when the last holder releases.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewLocker builds an empty locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*lockEntry)}
}

// Acquire blocks until the address lease is free and returns the release
// function. Release exactly once.
func (l *Locker) Acquire(phoneNumber string) func() {
	l.mu.Lock()
	entry, ok := l.locks[phoneNumber]
	if !ok {
		entry = &lockEntry{}
		l.locks[phoneNumber] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, phoneNumber)
		}
		l.mu.Unlock()
	}
}
