// Package circuitbreaker provides a per-key circuit breaker. Keys are chain
// networks ("chain:ETH") and notification channels ("notify:webhook"), so a
// dead RPC endpoint or webhook receiver stops being called without holding
// up the other networks and channels.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // calls flow through
	StateOpen                  // calls are rejected
	StateHalfOpen              // one probe call in flight
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Execute when the circuit for a key is open.
var ErrOpen = errors.New("circuitbreaker: circuit open")

var (
	transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cryptoguard",
		Subsystem: "circuitbreaker",
		Name:      "state_transitions_total",
		Help:      "Circuit breaker state transitions by key, from-state, and to-state.",
	}, []string{"key", "from_state", "to_state"})

	openGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cryptoguard",
		Subsystem: "circuitbreaker",
		Name:      "open",
		Help:      "1 while the circuit for a key is open or half-open.",
	}, []string{"key"})
)

func init() {
	prometheus.MustRegister(transitionsTotal, openGauge)
}

type entry struct {
	state    State
	failures int
	openedAt time.Time // start of the current open or half-open period
}

// Breaker trips a key open after threshold consecutive failures. After
// cooldown one probe is let through; its outcome closes or reopens the
// circuit. A probe that never reports back is replaced after another
// cooldown.
type Breaker struct {
	mu        sync.Mutex
	entries   map[string]*entry
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// New creates a breaker that opens after threshold consecutive failures and
// probes again after cooldown. Non-positive arguments fall back to 5 and 30s.
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		entries:   make(map[string]*entry),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// WithClock replaces the time source (for tests).
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
	return b
}

// Allow reports whether a call for key may proceed. An open circuit past
// its cooldown moves to half-open and admits the caller as the probe.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok || e.state == StateClosed {
		return true
	}
	if b.now().Sub(e.openedAt) < b.cooldown {
		return false
	}
	// Open past cooldown, or a half-open probe that went silent.
	e.openedAt = b.now()
	b.transition(e, key, StateHalfOpen)
	return true
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return
	}
	e.failures = 0
	b.transition(e, key, StateClosed)
}

// RecordFailure counts a failure. A failed probe reopens the circuit at
// once; a closed circuit opens when the threshold is reached.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		e = &entry{state: StateClosed}
		b.entries[key] = e
	}
	e.failures++

	switch e.state {
	case StateHalfOpen:
		e.openedAt = b.now()
		b.transition(e, key, StateOpen)
	case StateClosed:
		if e.failures >= b.threshold {
			e.openedAt = b.now()
			b.transition(e, key, StateOpen)
		}
	}
}

// Execute runs fn if the circuit for key allows it and records the outcome.
// A rejected call returns an error wrapping ErrOpen without calling fn.
func (b *Breaker) Execute(key string, fn func() error) error {
	if !b.Allow(key) {
		return fmt.Errorf("%w: %s", ErrOpen, key)
	}
	if err := fn(); err != nil {
		b.RecordFailure(key)
		return err
	}
	b.RecordSuccess(key)
	return nil
}

// State returns the current state for a key; unknown keys are closed. An
// open circuit reports open until a caller actually probes it.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.entries[key]; ok {
		return e.state
	}
	return StateClosed
}

// Snapshot returns the state of every key that has ever failed.
func (b *Breaker) Snapshot() map[string]State {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]State, len(b.entries))
	for k, e := range b.entries {
		out[k] = e.state
	}
	return out
}

// transition must be called with b.mu held.
func (b *Breaker) transition(e *entry, key string, to State) {
	from := e.state
	if from == to {
		return
	}
	e.state = to
	transitionsTotal.WithLabelValues(key, from.String(), to.String()).Inc()
	if to == StateClosed {
		openGauge.WithLabelValues(key).Set(0)
	} else {
		openGauge.WithLabelValues(key).Set(1)
	}
}
