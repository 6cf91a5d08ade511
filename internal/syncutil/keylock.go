// Package syncutil provides per-key locking over a bounded pool of stripes.
//
// Keys are wallet IDs in practice. Two keys may hash to the same stripe and
// then serialize against each other; memory stays fixed no matter how many
// wallets exist.
package syncutil

import (
	"context"
	"hash/fnv"
)

// DefaultStripes is the stripe count used by the zero value.
const DefaultStripes = 256

// KeyLock is a striped mutex keyed by string. Each stripe is a one-slot
// channel, so waiters can give up when their context ends. The zero value
// is not usable; call NewKeyLock.
type KeyLock struct {
	stripes []chan struct{}
}

// NewKeyLock creates a lock with n stripes (DefaultStripes when n <= 0).
func NewKeyLock(n int) *KeyLock {
	if n <= 0 {
		n = DefaultStripes
	}
	k := &KeyLock{stripes: make([]chan struct{}, n)}
	for i := range k.stripes {
		k.stripes[i] = make(chan struct{}, 1)
	}
	return k
}

// Lock blocks until key is held and returns the release func.
func (k *KeyLock) Lock(key string) func() {
	s := k.stripe(key)
	s <- struct{}{}
	return func() { <-s }
}

// LockContext is Lock that gives up when ctx is done. On error nothing is
// held and the returned func is nil.
func (k *KeyLock) LockContext(ctx context.Context, key string) (func(), error) {
	s := k.stripe(key)
	select {
	case s <- struct{}{}:
		return func() { <-s }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryLock takes key only if it is free right now.
func (k *KeyLock) TryLock(key string) (func(), bool) {
	s := k.stripe(key)
	select {
	case s <- struct{}{}:
		return func() { <-s }, true
	default:
		return nil, false
	}
}

func (k *KeyLock) stripe(key string) chan struct{} {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return k.stripes[h.Sum32()%uint32(len(k.stripes))]
}
