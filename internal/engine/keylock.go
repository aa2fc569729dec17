package engine

import "sync"

// KeyLock serializes critical sections per string key. Commits, claim edits
// and entitlement writes for the same (employee, expense type) pair share one
// lock; different pairs never contend.
type KeyLock struct {
	mu      sync.Mutex
	entries map[string]*keyLockEntry
}

type keyLockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyLock creates an empty keyed lock set.
func NewKeyLock() *KeyLock {
	return &KeyLock{entries: make(map[string]*keyLockEntry)}
}

// Lock acquires the lock for key and returns the matching unlock function.
// Entries are reference-counted so the map does not grow with the number of
// keys ever seen.
func (l *KeyLock) Lock(key string) func() {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &keyLockEntry{}
		l.entries[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, key)
		}
		l.mu.Unlock()
	}
}

// LockKey builds the serialization key for an employee and expense type.
func LockKey(employeeID, expenseType string) string {
	return employeeID + "\x00" + expenseType
}
