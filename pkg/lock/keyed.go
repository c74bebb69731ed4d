package lock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Keyed hands out one mutex per key. Goroutines locking different keys
// never block each other. An entry lives only while some goroutine holds
// or waits for it.
type Keyed[K comparable] struct {
	mutex   sync.Mutex
	entries map[K]*entry
}

func NewKeyed[K comparable]() *Keyed[K] {
	return &Keyed[K]{
		entries: make(map[K]*entry),
	}
}

func (k *Keyed[K]) Lock(key K) {
	k.mutex.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	e.refs++
	k.mutex.Unlock()

	e.mu.Lock()
}

// Unlock panics when key is not locked, like sync.Mutex.
func (k *Keyed[K]) Unlock(key K) {
	k.mutex.Lock()
	e, ok := k.entries[key]
	if !ok {
		k.mutex.Unlock()
		panic("lock: unlock of unlocked key")
	}
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
	k.mutex.Unlock()

	e.mu.Unlock()
}

// Do runs fn while holding key. The key is released even if fn panics.
func (k *Keyed[K]) Do(key K, fn func()) {
	k.Lock(key)
	defer k.Unlock(key)

	fn()
}

// Len is the number of keys currently held or waited on.
func (k *Keyed[K]) Len() int {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	return len(k.entries)
}
