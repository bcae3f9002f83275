package locks

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyedSerializesSameKey(t *testing.T) {
	k := NewKeyed()
	var counter int

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k.Lock(42)
			counter++
			k.Unlock(42)
		}()
	}
	wg.Wait()

	require.Equal(t, 50, counter)
}

func TestKeyedReleasesUnusedEntries(t *testing.T) {
	k := NewKeyed()
	k.Lock(1)
	k.Unlock(1)

	k.mu.Lock()
	defer k.mu.Unlock()
	require.Empty(t, k.locks)
}

func TestKeyedIndependentKeysDoNotBlock(t *testing.T) {
	k := NewKeyed()
	k.Lock(1)
	done := make(chan struct{})
	go func() {
		k.Lock(2)
		k.Unlock(2)
		close(done)
	}()
	<-done
	k.Unlock(1)
}
