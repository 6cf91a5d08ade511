package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mbd888/cryptoguard/internal/account"
	"github.com/mbd888/cryptoguard/internal/alerts"
	"github.com/mbd888/cryptoguard/internal/circuitbreaker"
	"github.com/mbd888/cryptoguard/internal/metrics"
	"github.com/mbd888/cryptoguard/internal/ratelimit"
	"github.com/mbd888/cryptoguard/internal/traces"
)

// DefaultTimeout bounds each channel's send.
const DefaultTimeout = 10 * time.Second

// Controller dispatches at most one alert per call to both channels.
type Controller struct {
	email   Channel
	webhook Channel

	timeout  time.Duration
	limiter  *ratelimit.Limiter
	breaker  *circuitbreaker.Breaker
	cooldown time.Duration
	log      *Log
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	recent map[cooldownKey]time.Time // last successful send
}

type cooldownKey struct {
	channel  string
	userID   string
	walletID string
	typ      alerts.Type
	ref      string
}

// Option configures a Controller.
type Option func(*Controller)

// WithTimeout sets the per-channel send deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimiter limits sends per channel and user.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(c *Controller) { c.limiter = l }
}

// WithBreaker skips a channel while its circuit is open.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(c *Controller) { c.breaker = b }
}

// WithCooldown suppresses an identical alert on the same channel within d.
// Zero disables it.
func WithCooldown(d time.Duration) Option {
	return func(c *Controller) { c.cooldown = d }
}

// WithLog records outcomes in l.
func WithLog(l *Log) Option {
	return func(c *Controller) { c.log = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithClock sets the time source used for cooldown and log entries.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates a controller. Either channel may be nil, in which
// case it is always reported as not configured.
func NewController(email, webhook Channel, opts ...Option) *Controller {
	c := &Controller{
		email:   email,
		webhook: webhook,
		timeout: DefaultTimeout,
		log:     NewLog(DefaultLogSize),
		logger:  slog.Default(),
		now:     time.Now,
		recent:  make(map[cooldownKey]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Log returns the outcome log.
func (c *Controller) Log() *Log { return c.log }

// Dispatch sends a to u over both channels concurrently. A nil alert skips
// both. The call returns once both channels have finished or hit their
// deadline.
func (c *Controller) Dispatch(ctx context.Context, u *account.User, a *alerts.Alert) Result {
	if a == nil {
		res := Result{Email: skipped(ReasonNoCandidate), Webhook: skipped(ReasonNoCandidate)}
		c.record(u, nil, ChannelEmail, res.Email)
		c.record(u, nil, ChannelWebhook, res.Webhook)
		return res
	}

	ctx, span := traces.StartSpan(ctx, "notify.Dispatch",
		traces.UserID(u.ID), traces.WalletID(a.WalletID))
	defer span.End()

	var res Result
	var g errgroup.Group
	g.Go(func() error {
		res.Email = c.deliver(ctx, ChannelEmail, c.email, u, a)
		return nil
	})
	g.Go(func() error {
		res.Webhook = c.deliver(ctx, ChannelWebhook, c.webhook, u, a)
		return nil
	})
	_ = g.Wait()

	c.record(u, a, ChannelEmail, res.Email)
	c.record(u, a, ChannelWebhook, res.Webhook)
	return res
}

func (c *Controller) deliver(ctx context.Context, name string, ch Channel, u *account.User, a *alerts.Alert) Outcome {
	if ch == nil || !ch.Configured(u) {
		return skipped(ReasonNotConfigured)
	}

	key := cooldownKey{channel: name, userID: u.ID, walletID: a.WalletID, typ: a.Type, ref: a.TxID}
	if c.inCooldown(key) {
		return skipped(ReasonCooldown)
	}
	if c.limiter != nil && !c.limiter.Allow(name+":"+u.ID) {
		return skipped(ReasonRateLimited)
	}

	ctx, span := traces.StartSpan(ctx, "notify.send", traces.Channel(name))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	send := func() error { return sendBounded(ctx, ch, u, a) }
	var err error
	if c.breaker != nil {
		err = c.breaker.Execute("notify:"+name, send)
	} else {
		err = send()
	}

	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		return skipped(ReasonCircuitOpen)
	case err != nil:
		traces.Fail(span, err)
		c.logger.Warn("notification failed", "channel", name, "user_id", u.ID, "alert_id", a.ID, "error", err)
		return failed(name, err)
	}

	c.markSent(key)
	return sent()
}

// sendBounded runs Send but returns as soon as ctx is done, so a channel
// that ignores its context cannot hold the cycle past the deadline.
func sendBounded(ctx context.Context, ch Channel, u *account.User, a *alerts.Alert) error {
	done := make(chan error, 1)
	go func() { done <- ch.Send(ctx, u, a) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) inCooldown(k cooldownKey) bool {
	if c.cooldown <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.recent[k]
	return ok && c.now().Sub(last) < c.cooldown
}

func (c *Controller) markSent(k cooldownKey) {
	if c.cooldown <= 0 {
		return
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recent[k] = now
	for key, t := range c.recent {
		if now.Sub(t) >= c.cooldown {
			delete(c.recent, key)
		}
	}
}

func (c *Controller) record(u *account.User, a *alerts.Alert, channel string, o Outcome) {
	metrics.NotificationsTotal.WithLabelValues(channel, string(o.Status)).Inc()
	if c.log == nil {
		return
	}
	e := Entry{Time: c.now(), Channel: channel, Outcome: o}
	if u != nil {
		e.UserID = u.ID
	}
	if a != nil {
		e.AlertID = a.ID
		e.WalletID = a.WalletID
	}
	c.log.Add(e)
}
