// Package syncer refreshes wallet state and transaction windows from the
// chain data source.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/cryptoguard/internal/chain"
	"github.com/mbd888/cryptoguard/internal/circuitbreaker"
	"github.com/mbd888/cryptoguard/internal/metrics"
	"github.com/mbd888/cryptoguard/internal/retry"
	"github.com/mbd888/cryptoguard/internal/syncutil"
	"github.com/mbd888/cryptoguard/internal/traces"
	"github.com/mbd888/cryptoguard/internal/wallet"
)

// ErrNotFound is returned by SyncWallet for an unknown wallet.
var ErrNotFound = wallet.ErrNotFound

// Window limits applied when the caller does not choose one.
const (
	DefaultLimit = 25
	MaxLimit     = 100
)

// State is the recomputed view of a wallet after a sync.
type State struct {
	Balance     decimal.Decimal `json:"balance"`
	USDValue    decimal.Decimal `json:"usdValue"`
	HealthScore int             `json:"healthScore"`
	SyncedAt    time.Time       `json:"lastSync"`
}

// RateTable maps a network to its USD price. Missing networks price at 1.
type RateTable map[wallet.Network]decimal.Decimal

// Rate returns the USD rate for n.
func (r RateTable) Rate(n wallet.Network) decimal.Decimal {
	if rate, ok := r[n]; ok {
		return rate
	}
	return decimal.NewFromInt(1)
}

// Synchronizer refreshes wallets from their chain source.
type Synchronizer struct {
	store    wallet.Store
	sources  chain.Resolver
	liveness Liveness
	rates    RateTable

	defaultLimit int
	maxLimit     int
	retry        retry.Policy
	breaker      *circuitbreaker.Breaker
	locks        *syncutil.KeyLock
	now          func() time.Time
	logger       *slog.Logger
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLimits overrides the default and maximum transaction window.
func WithLimits(defaultLimit, maxLimit int) Option {
	return func(s *Synchronizer) {
		if defaultLimit > 0 {
			s.defaultLimit = defaultLimit
		}
		if maxLimit > 0 {
			s.maxLimit = maxLimit
		}
	}
}

// WithRetry overrides the retry policy for chain reads.
func WithRetry(p retry.Policy) Option {
	return func(s *Synchronizer) { s.retry = p }
}

// WithBreaker shares a circuit breaker; keys are "chain:<network>".
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(s *Synchronizer) { s.breaker = b }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) { s.logger = l }
}

// New creates a Synchronizer.
func New(store wallet.Store, sources chain.Resolver, liveness Liveness, rates RateTable, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		store:        store,
		sources:      sources,
		liveness:     liveness,
		rates:        rates,
		defaultLimit: DefaultLimit,
		maxLimit:     MaxLimit,
		retry:        retry.DefaultPolicy,
		breaker:      circuitbreaker.New(5, 30*time.Second),
		locks:        syncutil.NewKeyLock(0),
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.defaultLimit > s.maxLimit {
		s.defaultLimit = s.maxLimit
	}
	return s
}

// SyncWallet recomputes balance, USD value and health score for a wallet.
//
// For simulated sources the returned balance carries liveness drift while
// the stored balance stays put, so drift never accumulates across syncs.
// Real sources overwrite the stored balance with what the chain reports.
func (s *Synchronizer) SyncWallet(ctx context.Context, walletID string) (State, error) {
	ctx, span := traces.StartSpan(ctx, "syncer.SyncWallet", traces.WalletID(walletID))
	defer span.End()

	w, err := s.store.Get(ctx, walletID)
	if err != nil {
		return State{}, err
	}

	unlock, err := s.locks.LockContext(ctx, w.ID)
	if err != nil {
		return State{}, err
	}
	defer func() { unlock() }()
	release := func() { unlock() }
	reacquire := func() {
		// The lock must be held again on return, even after cancellation.
		unlock, _ = s.locks.LockContext(context.WithoutCancel(ctx), w.ID)
	}

	src := s.sources.For(w.Network)
	var observed decimal.Decimal
	err = retry.DoWithUnlock(ctx, s.retry.MaxAttempts, s.retry.BaseDelay, release, reacquire, func() error {
		return s.call(w.Network, func() error {
			b, err := src.Balance(ctx, w)
			observed = b
			return err
		})
	})
	if err != nil {
		traces.Fail(span, err)
		metrics.WalletSyncsTotal.WithLabelValues(string(w.Network), "error").Inc()
		return State{}, fmt.Errorf("sync %s via %s: %w", w.ID, src.Name(), err)
	}

	rate := s.rates.Rate(w.Network)
	now := s.now()
	health := s.liveness.HealthScore()

	stored := observed
	balance := observed
	if src.Simulated() {
		balance = observed.Add(s.liveness.Drift()).Round(4)
	}
	state := State{
		Balance:     balance,
		USDValue:    balance.Mul(rate).Round(2),
		HealthScore: health,
		SyncedAt:    now,
	}

	if err := s.store.UpdateState(ctx, w.ID, stored, stored.Mul(rate).Round(2), health, now); err != nil {
		metrics.WalletSyncsTotal.WithLabelValues(string(w.Network), "error").Inc()
		return State{}, err
	}

	metrics.WalletSyncsTotal.WithLabelValues(string(w.Network), "ok").Inc()
	return state, nil
}

// FetchTransactions returns up to limit transactions for a wallet, newest
// first. limit <= 0 selects the default window; limits above the maximum
// are capped. An unknown wallet yields an empty slice and no error.
func (s *Synchronizer) FetchTransactions(ctx context.Context, walletID string, limit int) ([]wallet.Transaction, error) {
	limit = s.clampLimit(limit)

	w, err := s.store.Get(ctx, walletID)
	if errors.Is(err, wallet.ErrNotFound) {
		return []wallet.Transaction{}, nil
	}
	if err != nil {
		return nil, err
	}

	src := s.sources.For(w.Network)
	if src.Simulated() && s.liveness.Enrich() {
		tx := s.liveness.Synthesize(w, s.now())
		if err := s.store.AppendTransactions(ctx, w.ID, tx); err != nil && !errors.Is(err, wallet.ErrNotFound) {
			s.logger.Warn("synthetic transaction not stored", "wallet", w.ID, "error", err)
		}
	}

	var txs []wallet.Transaction
	err = s.retry.Do(ctx, func() error {
		return s.call(w.Network, func() error {
			got, err := src.Transactions(ctx, w, limit)
			txs = got
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("transactions for %s via %s: %w", w.ID, src.Name(), err)
	}
	return wallet.Window(txs, limit), nil
}

// Connect prepares a new wallet's opening state and stores it. Simulated
// networks get a liveness opening balance; real ones read the chain.
func (s *Synchronizer) Connect(ctx context.Context, w *wallet.Wallet) error {
	src := s.sources.For(w.Network)

	balance := s.liveness.OpeningBalance()
	if !src.Simulated() {
		err := s.retry.Do(ctx, func() error {
			return s.call(w.Network, func() error {
				b, err := src.Balance(ctx, w)
				balance = b
				return err
			})
		})
		if err != nil {
			return fmt.Errorf("opening balance for %s: %w", w.Address, err)
		}
	}

	w.Balance = balance
	w.USDValue = balance.Mul(s.rates.Rate(w.Network)).Round(2)
	w.HealthScore = s.liveness.HealthScore()
	w.LastSync = s.now()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = w.LastSync
	}
	return s.store.Create(ctx, w)
}

// Limit clamps a caller-supplied window size the way FetchTransactions does.
func (s *Synchronizer) Limit(limit int) int { return s.clampLimit(limit) }

func (s *Synchronizer) clampLimit(limit int) int {
	if limit <= 0 {
		return s.defaultLimit
	}
	if limit > s.maxLimit {
		return s.maxLimit
	}
	return limit
}

// call runs fn behind the network's circuit breaker. Errors that retrying
// cannot fix are marked permanent.
func (s *Synchronizer) call(n wallet.Network, fn func() error) error {
	err := s.breaker.Execute("chain:"+string(n), fn)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, circuitbreaker.ErrOpen),
		errors.Is(err, wallet.ErrInvalidAddress),
		errors.Is(err, chain.ErrUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return retry.Permanent(err)
	default:
		return err
	}
}
