package lock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedSameKeySerializes(t *testing.T) {
	k := NewKeyed[string]()

	var inside atomic.Int32
	var overlap atomic.Bool
	counter := 0

	wg := sync.WaitGroup{}
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k.Do("reverse\x00abc", func() {
				if inside.Add(1) > 1 {
					overlap.Store(true)
				}
				counter++
				inside.Add(-1)
			})
		}()
	}
	wg.Wait()

	assert.False(t, overlap.Load())
	assert.Equal(t, 64, counter)
	assert.Equal(t, 0, k.Len())
}

func TestKeyedDifferentKeysDoNotBlock(t *testing.T) {
	k := NewKeyed[string]()

	k.Lock("a")
	defer k.Unlock("a")

	done := make(chan struct{})
	go func() {
		k.Lock("b")
		k.Unlock("b")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
}

func TestKeyedWaiterGetsKey(t *testing.T) {
	k := NewKeyed[int]()

	k.Lock(7)

	acquired := make(chan struct{})
	go func() {
		k.Lock(7)
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock(7) returned while the key was held")
	case <-time.After(50 * time.Millisecond):
	}

	require.Equal(t, 1, k.Len())
	k.Unlock(7)

	<-acquired
	k.Unlock(7)
	assert.Equal(t, 0, k.Len())
}

func TestKeyedDoReleasesOnPanic(t *testing.T) {
	k := NewKeyed[string]()

	assert.Panics(t, func() {
		k.Do("x", func() { panic("boom") })
	})

	assert.Equal(t, 0, k.Len())
	k.Do("x", func() {})
}

func TestKeyedUnlockUnknownPanics(t *testing.T) {
	k := NewKeyed[string]()
	assert.Panics(t, func() { k.Unlock("never") })
}
