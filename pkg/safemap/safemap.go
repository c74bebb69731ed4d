package safemap

import "sync"

// Map is a map guarded by a RWMutex. Every method is atomic on its own;
// compound check-then-act sequences need LoadOrStore or an outer lock.
type Map[K comparable, V any] struct {
	mutex sync.RWMutex
	db    map[K]V
}

func New[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{
		db: make(map[K]V),
	}
}

func (l *Map[K, V]) Get(key K) (V, bool) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	v, ok := l.db[key]
	return v, ok
}

func (l *Map[K, V]) Len() int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return len(l.db)
}

func (l *Map[K, V]) Delete(key K) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	delete(l.db, key)
}

func (l *Map[K, V]) Set(key K, value V) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.db[key] = value
}

func (l *Map[K, V]) IsSet(key K) bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	_, ok := l.db[key]
	return ok
}

// LoadOrStore returns the existing value for key if present. Otherwise it
// stores value and returns it. loaded reports which happened.
func (l *Map[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if v, ok := l.db[key]; ok {
		return v, true
	}
	l.db[key] = value
	return value, false
}

func (l *Map[K, V]) LoadAndDelete(key K) (V, bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	v, ok := l.db[key]
	if ok {
		delete(l.db, key)
	}
	return v, ok
}

// Update runs fn on the current value (zero value and false when absent)
// and stores the result, or deletes the key when fn returns keep=false.
func (l *Map[K, V]) Update(key K, fn func(v V, ok bool) (V, bool)) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	v, ok := l.db[key]
	if nv, keep := fn(v, ok); keep {
		l.db[key] = nv
	} else {
		delete(l.db, key)
	}
}

func (l *Map[K, V]) GetKeys() (keys []K) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for i := range l.db {
		keys = append(keys, i)
	}

	return keys
}

func (l *Map[K, V]) Values() (values []V) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for _, v := range l.db {
		values = append(values, v)
	}

	return values
}

// Range calls fn on a snapshot of the map, so fn may modify the map.
// Returning false stops the iteration.
func (l *Map[K, V]) Range(fn func(key K, value V) bool) {
	l.mutex.RLock()
	snapshot := make(map[K]V, len(l.db))
	for k, v := range l.db {
		snapshot[k] = v
	}
	l.mutex.RUnlock()

	for k, v := range snapshot {
		if !fn(k, v) {
			return
		}
	}
}
