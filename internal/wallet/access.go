package wallet

import (
	"context"
	"sync"
)

// MetricsSource supplies the non-transactional counters for a wallet's next
// risk evaluation.
type MetricsSource interface {
	Metrics(ctx context.Context, walletID string) Metrics
}

// AccessCounter tracks failed access attempts reported against each wallet.
// Counts persist until Reset is called.
type AccessCounter struct {
	mu     sync.RWMutex
	counts map[string]int
}

// NewAccessCounter creates an empty counter.
func NewAccessCounter() *AccessCounter {
	return &AccessCounter{counts: make(map[string]int)}
}

// RecordFailure increments the failure count for walletID and returns the new value.
func (c *AccessCounter) RecordFailure(walletID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[walletID]++
	return c.counts[walletID]
}

// Reset clears the failure count for walletID.
func (c *AccessCounter) Reset(walletID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, walletID)
}

// Metrics implements MetricsSource.
func (c *AccessCounter) Metrics(_ context.Context, walletID string) Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Metrics{FailedAttempts: c.counts[walletID]}
}

// NoMetrics is a MetricsSource that always reports zero counters.
type NoMetrics struct{}

func (NoMetrics) Metrics(context.Context, string) Metrics { return Metrics{} }
