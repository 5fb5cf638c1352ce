package lifecycle

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ahrav/postflow/pkg/common/uuid"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	t.Parallel()

	km := newKeyedMutex()
	key := uuid.New()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			km.Lock(key)
			defer km.Unlock(key)
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter, "increments under the same key must not race")
}

func TestKeyedMutex_DifferentKeysIndependent(t *testing.T) {
	t.Parallel()

	km := newKeyedMutex()
	first, second := uuid.New(), uuid.New()

	km.Lock(first)

	done := make(chan struct{})
	go func() {
		km.Lock(second)
		km.Unlock(second)
		close(done)
	}()

	<-done // would deadlock if keys shared a lock
	km.Unlock(first)
}

func TestKeyedMutex_EntriesReclaimed(t *testing.T) {
	t.Parallel()

	km := newKeyedMutex()

	for i := 0; i < 50; i++ {
		key := uuid.New()
		km.Lock(key)
		km.Unlock(key)
	}

	km.mu.Lock()
	defer km.mu.Unlock()
	assert.Empty(t, km.locks, "released entries must not accumulate")
}
