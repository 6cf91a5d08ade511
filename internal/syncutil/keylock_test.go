package syncutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyLock_SerializesSameKey(t *testing.T) {
	k := NewKeyLock(0)

	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("wal_a")
			defer unlock()
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

func TestKeyLock_LockContextCancelled(t *testing.T) {
	k := NewKeyLock(4)
	unlock := k.Lock("wal_a")
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	release, err := k.LockContext(ctx, "wal_a")
	assert.Nil(t, release)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKeyLock_LockContextAcquiresAfterRelease(t *testing.T) {
	k := NewKeyLock(4)
	unlock := k.Lock("wal_a")

	done := make(chan struct{})
	go func() {
		release, err := k.LockContext(context.Background(), "wal_a")
		if err == nil {
			release()
		}
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	unlock()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
}

func TestKeyLock_TryLock(t *testing.T) {
	k := NewKeyLock(0)

	release, ok := k.TryLock("wal_a")
	require.True(t, ok)

	_, ok = k.TryLock("wal_a")
	assert.False(t, ok, "held key must not be taken twice")

	release()
	release, ok = k.TryLock("wal_a")
	require.True(t, ok)
	release()
}

func TestKeyLock_SingleStripeSharesAcrossKeys(t *testing.T) {
	k := NewKeyLock(1)
	unlock := k.Lock("wal_a")
	defer unlock()

	_, ok := k.TryLock("wal_b")
	assert.False(t, ok)
}
