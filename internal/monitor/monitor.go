// Package monitor runs evaluation cycles: sync every wallet a user owns,
// evaluate the rules, merge with persisted alerts and dispatch the
// candidate.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/mbd888/cryptoguard/internal/account"
	"github.com/mbd888/cryptoguard/internal/alerts"
	"github.com/mbd888/cryptoguard/internal/metrics"
	"github.com/mbd888/cryptoguard/internal/notify"
	"github.com/mbd888/cryptoguard/internal/realtime"
	"github.com/mbd888/cryptoguard/internal/risk"
	"github.com/mbd888/cryptoguard/internal/syncer"
	"github.com/mbd888/cryptoguard/internal/traces"
	"github.com/mbd888/cryptoguard/internal/wallet"
)

// Cycle triggers, used as metric labels.
const (
	TriggerRequest  = "request"
	TriggerOverview = "overview"
	TriggerSchedule = "schedule"
)

// Defaults.
const (
	DefaultConcurrency     = 8
	DefaultTxWindow        = 10
	DefaultRecentTxs       = 8
	DefaultPersistedLimit  = 200
	DefaultSideEffectLimit = 15 * time.Second
)

// Broadcaster publishes cycle events to connected dashboards.
type Broadcaster interface {
	Broadcast(e *realtime.Event)
}

// WalletResult is one wallet's part of a cycle.
type WalletResult struct {
	Wallet       wallet.Wallet        `json:"wallet"`
	Transactions []wallet.Transaction `json:"-"`
	Alerts       []alerts.Alert       `json:"-"`
	Err          error                `json:"-"`
}

// Summary holds the dashboard totals.
type Summary struct {
	TotalWallets   int                     `json:"totalWallets"`
	TotalUSD       decimal.Decimal         `json:"totalUsd"`
	AvgHealthScore int                     `json:"avgHealthScore"`
	AlertCounts    map[alerts.Severity]int `json:"alertCounts"`
}

// Report is the outcome of one cycle.
type Report struct {
	UserID    string         `json:"userId"`
	Trigger   string         `json:"trigger"`
	Wallets   []WalletResult `json:"-"`
	Generated []alerts.Alert `json:"generatedAlerts"`
	Persisted []alerts.Alert `json:"-"`
	Result    alerts.Result  `json:"-"`
	Dispatch  *notify.Result `json:"dispatch,omitempty"`
	Summary   Summary        `json:"summary"`
	StartedAt time.Time      `json:"startedAt"`
	Duration  time.Duration  `json:"-"`
}

// SyncedWallets returns the wallets with their freshly synced state.
func (r *Report) SyncedWallets() []wallet.Wallet {
	out := make([]wallet.Wallet, len(r.Wallets))
	for i := range r.Wallets {
		out[i] = r.Wallets[i].Wallet
	}
	return out
}

// Failed returns the wallets whose sync or fetch failed.
func (r *Report) Failed() []WalletResult {
	var out []WalletResult
	for _, w := range r.Wallets {
		if w.Err != nil {
			out = append(out, w)
		}
	}
	return out
}

// Service runs evaluation cycles.
type Service struct {
	wallets  wallet.Store
	alerts   alerts.Store
	syncer   *syncer.Synchronizer
	engine   *risk.Engine
	notifier *notify.Controller

	behaviour        wallet.MetricsSource
	hub              Broadcaster
	concurrency      int
	txWindow         int
	persistedLimit   int
	persistGenerated bool
	sideEffectLimit  time.Duration
	logger           *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithMetricsSource supplies per-wallet behavioural metrics (failed access
// attempts).
func WithMetricsSource(m wallet.MetricsSource) Option {
	return func(s *Service) { s.behaviour = m }
}

// WithBroadcaster publishes cycle results.
func WithBroadcaster(b Broadcaster) Option {
	return func(s *Service) { s.hub = b }
}

// WithConcurrency bounds parallel wallet syncs.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithTxWindow sets how many transactions per wallet the rules see.
func WithTxWindow(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.txWindow = n
		}
	}
}

// WithPersistGenerated stores generated alerts after each dispatching cycle.
func WithPersistGenerated(on bool) Option {
	return func(s *Service) { s.persistGenerated = on }
}

// WithSideEffectTimeout bounds persistence and dispatch once the request
// context is detached.
func WithSideEffectTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sideEffectLimit = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a monitoring service. notifier may be nil, in which
// case cycles never dispatch.
func NewService(wallets wallet.Store, alertStore alerts.Store, sync *syncer.Synchronizer, engine *risk.Engine, notifier *notify.Controller, opts ...Option) *Service {
	s := &Service{
		wallets:         wallets,
		alerts:          alertStore,
		syncer:          sync,
		engine:          engine,
		notifier:        notifier,
		behaviour:       wallet.NoMetrics{},
		concurrency:     DefaultConcurrency,
		txWindow:        DefaultTxWindow,
		persistedLimit:  DefaultPersistedLimit,
		sideEffectLimit: DefaultSideEffectLimit,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunCycle evaluates every wallet u owns and dispatches the first high
// severity generated alert.
func (s *Service) RunCycle(ctx context.Context, u *account.User) (*Report, error) {
	return s.run(ctx, u, TriggerRequest, true)
}

// Evaluate runs the same pipeline without side effects: nothing is
// persisted or dispatched.
func (s *Service) Evaluate(ctx context.Context, u *account.User) (*Report, error) {
	return s.run(ctx, u, TriggerOverview, false)
}

func (s *Service) run(ctx context.Context, u *account.User, trigger string, dispatch bool) (*Report, error) {
	start := time.Now()
	ctx, span := traces.StartSpan(ctx, "monitor.RunCycle", traces.UserID(u.ID))
	defer span.End()

	owned, err := s.wallets.ListByUser(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	report := &Report{UserID: u.ID, Trigger: trigger, StartedAt: start, Wallets: make([]WalletResult, len(owned))}

	// Fan out sync+fetch, keep results in wallet order.
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, w := range owned {
		g.Go(func() error {
			report.Wallets[i] = s.refresh(ctx, w)
			return nil
		})
	}
	_ = g.Wait()

	// Rules run after fan-in, in wallet order.
	ids := make([]string, len(owned))
	report.Generated = []alerts.Alert{}
	for i := range report.Wallets {
		wr := &report.Wallets[i]
		ids[i] = wr.Wallet.ID
		m := s.behaviour.Metrics(ctx, wr.Wallet.ID)
		wr.Alerts = s.engine.Evaluate(wr.Wallet, wr.Transactions, m)
		for _, a := range wr.Alerts {
			metrics.AlertsGeneratedTotal.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
		}
		report.Generated = append(report.Generated, wr.Alerts...)
	}
	span.SetAttributes(traces.AlertCount(len(report.Generated)))

	report.Persisted = []alerts.Alert{}
	if len(ids) > 0 {
		persisted, _, err := s.alerts.ListByWallets(ctx, ids, s.persistedLimit, "")
		if err != nil {
			s.logger.Warn("failed to load persisted alerts", "user_id", u.ID, "error", err)
		} else {
			report.Persisted = persisted
		}
	}

	report.Result = alerts.Aggregate(report.Generated, report.Persisted)
	report.Summary = summarize(report)

	if dispatch {
		// Side effects outlive the request.
		sideCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sideEffectLimit)
		s.persist(sideCtx, report.Generated)
		if s.notifier != nil {
			res := s.notifier.Dispatch(sideCtx, u, report.Result.Candidate)
			report.Dispatch = &res
		}
		cancel()
	}

	report.Duration = time.Since(start)
	metrics.CyclesTotal.WithLabelValues(trigger).Inc()
	metrics.CycleDuration.Observe(report.Duration.Seconds())
	s.publish(u, report)

	s.logger.Debug("cycle complete",
		"user_id", u.ID,
		"trigger", trigger,
		"wallets", len(owned),
		"failed", len(report.Failed()),
		"alerts", len(report.Generated),
		"duration", report.Duration,
	)
	return report, nil
}

func (s *Service) refresh(ctx context.Context, w *wallet.Wallet) WalletResult {
	wr := WalletResult{Wallet: *w, Transactions: []wallet.Transaction{}}

	state, err := s.syncer.SyncWallet(ctx, w.ID)
	if err != nil {
		s.logger.Warn("wallet sync failed", "wallet_id", w.ID, "network", w.Network, "error", err)
		wr.Err = err
	} else {
		wr.Wallet.Balance = state.Balance
		wr.Wallet.USDValue = state.USDValue
		wr.Wallet.HealthScore = state.HealthScore
		wr.Wallet.LastSync = state.SyncedAt
	}

	txs, err := s.syncer.FetchTransactions(ctx, w.ID, s.txWindow)
	if err != nil {
		s.logger.Warn("transaction fetch failed", "wallet_id", w.ID, "error", err)
		if wr.Err == nil {
			wr.Err = err
		}
		return wr
	}
	wr.Transactions = txs
	return wr
}

func (s *Service) persist(ctx context.Context, generated []alerts.Alert) {
	if !s.persistGenerated {
		return
	}
	for i := range generated {
		a := generated[i]
		if err := s.alerts.Create(ctx, &a); err != nil {
			s.logger.Warn("failed to persist alert", "alert_id", a.ID, "error", err)
		}
	}
}

func (s *Service) publish(u *account.User, r *Report) {
	if s.hub == nil {
		return
	}
	for _, a := range r.Generated {
		s.hub.Broadcast(&realtime.Event{
			Type:     realtime.EventAlert,
			UserID:   u.ID,
			WalletID: a.WalletID,
			Severity: a.Severity,
			Data:     a,
		})
	}
	if r.Dispatch != nil && r.Result.Candidate != nil {
		s.hub.Broadcast(&realtime.Event{
			Type:     realtime.EventDispatch,
			UserID:   u.ID,
			WalletID: r.Result.Candidate.WalletID,
			Data:     map[string]interface{}{"alert": r.Result.Candidate, "result": r.Dispatch},
		})
	}
	s.hub.Broadcast(&realtime.Event{
		Type:   realtime.EventCycle,
		UserID: u.ID,
		Data:   r.Summary,
	})
}

func summarize(r *Report) Summary {
	sum := Summary{
		TotalWallets: len(r.Wallets),
		TotalUSD:     decimal.Zero,
		AlertCounts:  alerts.CountBySeverity(alerts.Dedupe(r.Generated)),
	}
	health := 0
	for _, w := range r.Wallets {
		sum.TotalUSD = sum.TotalUSD.Add(w.Wallet.USDValue)
		health += w.Wallet.HealthScore
	}
	sum.TotalUSD = sum.TotalUSD.Round(2)
	if len(r.Wallets) > 0 {
		sum.AvgHealthScore = int(decimal.NewFromInt(int64(health)).
			Div(decimal.NewFromInt(int64(len(r.Wallets)))).Round(0).IntPart())
	}
	return sum
}
