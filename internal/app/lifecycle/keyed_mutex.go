package lifecycle

import (
	"sync"

	"github.com/ahrav/postflow/pkg/common/uuid"
)

// keyedMutex serializes operations per post ID while letting operations on
// different posts run fully concurrently. Entries are reference-counted and
// removed once the last holder unlocks, so the map does not grow with the
// number of posts ever touched.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[uuid.UUID]*lockEntry)}
}

// Lock acquires the mutex for the given key, blocking until any concurrent
// holder of the same key releases it.
func (km *keyedMutex) Lock(key uuid.UUID) {
	km.mu.Lock()
	entry, ok := km.locks[key]
	if !ok {
		entry = new(lockEntry)
		km.locks[key] = entry
	}
	entry.refs++
	km.mu.Unlock()

	entry.mu.Lock()
}

// Unlock releases the mutex for the given key.
func (km *keyedMutex) Unlock(key uuid.UUID) {
	km.mu.Lock()
	entry := km.locks[key]
	entry.refs--
	if entry.refs == 0 {
		delete(km.locks, key)
	}
	km.mu.Unlock()

	entry.mu.Unlock()
}
