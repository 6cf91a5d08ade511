package notify

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/cryptoguard/internal/account"
	"github.com/mbd888/cryptoguard/internal/alerts"
	"github.com/mbd888/cryptoguard/internal/circuitbreaker"
	"github.com/mbd888/cryptoguard/internal/metrics"
	"github.com/mbd888/cryptoguard/internal/ratelimit"
)

type fakeChannel struct {
	name       string
	configured bool
	err        error
	delay      time.Duration
	ignoreCtx  bool
	calls      atomic.Int32
}

func (f *fakeChannel) Name() string                    { return f.name }
func (f *fakeChannel) Configured(_ *account.User) bool { return f.configured }

func (f *fakeChannel) Send(ctx context.Context, _ *account.User, _ *alerts.Alert) error {
	f.calls.Add(1)
	if f.delay > 0 {
		if f.ignoreCtx {
			time.Sleep(f.delay)
		} else {
			select {
			case <-time.After(f.delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return f.err
}

func testUser() *account.User {
	return &account.User{ID: "usr_1", Email: "lead@cryptoguard.dev", Plan: account.PlanPro}
}

func highAlert() *alerts.Alert {
	return &alerts.Alert{ID: "alt_1", WalletID: "wal_1", Type: alerts.TypeLargeTransfer, Severity: alerts.SeverityHigh, TxID: "tx_1"}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestDispatch_NoCandidate(t *testing.T) {
	email := &fakeChannel{name: ChannelEmail, configured: true}
	webhook := &fakeChannel{name: ChannelWebhook, configured: true}
	c := NewController(email, webhook)

	res := c.Dispatch(context.Background(), testUser(), nil)
	assert.Equal(t, skipped(ReasonNoCandidate), res.Email)
	assert.Equal(t, skipped(ReasonNoCandidate), res.Webhook)
	assert.Zero(t, email.calls.Load())
	assert.Zero(t, webhook.calls.Load())
}

func TestDispatch_WebhookNotConfigured(t *testing.T) {
	email := &fakeChannel{name: ChannelEmail, configured: true}
	webhook := &fakeChannel{name: ChannelWebhook}
	c := NewController(email, webhook)

	res := c.Dispatch(context.Background(), testUser(), highAlert())
	assert.Equal(t, StatusSent, res.Email.Status)
	assert.Equal(t, StatusSkipped, res.Webhook.Status)
	assert.Equal(t, ReasonNotConfigured, res.Webhook.Reason)
	assert.EqualValues(t, 1, email.calls.Load())
	assert.Zero(t, webhook.calls.Load())
}

func TestDispatch_NilChannels(t *testing.T) {
	res := NewController(nil, nil).Dispatch(context.Background(), testUser(), highAlert())
	assert.Equal(t, ReasonNotConfigured, res.Email.Reason)
	assert.Equal(t, ReasonNotConfigured, res.Webhook.Reason)
}

func TestDispatch_FailureIsolated(t *testing.T) {
	boom := errors.New("smtp: 550 mailbox unavailable")
	email := &fakeChannel{name: ChannelEmail, configured: true, err: boom}
	webhook := &fakeChannel{name: ChannelWebhook, configured: true}
	c := NewController(email, webhook)

	res := c.Dispatch(context.Background(), testUser(), highAlert())
	assert.Equal(t, StatusFailed, res.Email.Status)
	var cde *ChannelDeliveryError
	require.ErrorAs(t, res.Email.Err, &cde)
	assert.Equal(t, ChannelEmail, cde.Channel)
	assert.ErrorIs(t, res.Email.Err, boom)

	assert.Equal(t, StatusSent, res.Webhook.Status)
	assert.NoError(t, res.Webhook.Err)
}

func TestDispatch_SlowChannelBoundedByTimeout(t *testing.T) {
	email := &fakeChannel{name: ChannelEmail, configured: true, delay: 5 * time.Second, ignoreCtx: true}
	webhook := &fakeChannel{name: ChannelWebhook, configured: true}
	c := NewController(email, webhook, WithTimeout(50*time.Millisecond))

	start := time.Now()
	res := c.Dispatch(context.Background(), testUser(), highAlert())
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, StatusFailed, res.Email.Status)
	assert.ErrorIs(t, res.Email.Err, context.DeadlineExceeded)
	assert.Equal(t, StatusSent, res.Webhook.Status)
}

func TestDispatch_RateLimited(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{RequestsPerMinute: 1, BurstSize: 1})
	defer limiter.Stop()

	email := &fakeChannel{name: ChannelEmail, configured: true}
	webhook := &fakeChannel{name: ChannelWebhook, configured: true}
	c := NewController(email, webhook, WithRateLimiter(limiter))

	first := c.Dispatch(context.Background(), testUser(), highAlert())
	assert.Equal(t, StatusSent, first.Email.Status)
	assert.Equal(t, StatusSent, first.Webhook.Status)

	second := c.Dispatch(context.Background(), testUser(), highAlert())
	assert.Equal(t, ReasonRateLimited, second.Email.Reason)
	assert.Equal(t, ReasonRateLimited, second.Webhook.Reason)

	// Limits are per user.
	other := &account.User{ID: "usr_2", Email: "x@example.com"}
	third := c.Dispatch(context.Background(), other, highAlert())
	assert.Equal(t, StatusSent, third.Email.Status)
}

func TestDispatch_CircuitOpen(t *testing.T) {
	breaker := circuitbreaker.New(1, time.Minute)
	webhook := &fakeChannel{name: ChannelWebhook, configured: true, err: errors.New("status 502")}
	email := &fakeChannel{name: ChannelEmail, configured: true}
	c := NewController(email, webhook, WithBreaker(breaker))

	res := c.Dispatch(context.Background(), testUser(), highAlert())
	assert.Equal(t, StatusFailed, res.Webhook.Status)

	res = c.Dispatch(context.Background(), testUser(), highAlert())
	assert.Equal(t, StatusSkipped, res.Webhook.Status)
	assert.Equal(t, ReasonCircuitOpen, res.Webhook.Reason)
	assert.EqualValues(t, 1, webhook.calls.Load())
	assert.Equal(t, StatusSent, res.Email.Status)
}

func TestDispatch_Cooldown(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	email := &fakeChannel{name: ChannelEmail, configured: true}
	c := NewController(email, nil, WithCooldown(10*time.Minute), WithClock(clock))

	assert.Equal(t, StatusSent, c.Dispatch(context.Background(), testUser(), highAlert()).Email.Status)

	now = now.Add(5 * time.Minute)
	res := c.Dispatch(context.Background(), testUser(), highAlert())
	assert.Equal(t, ReasonCooldown, res.Email.Reason)

	// A different transaction is a different alert.
	other := highAlert()
	other.TxID = "tx_2"
	assert.Equal(t, StatusSent, c.Dispatch(context.Background(), testUser(), other).Email.Status)

	now = now.Add(6 * time.Minute)
	assert.Equal(t, StatusSent, c.Dispatch(context.Background(), testUser(), highAlert()).Email.Status)
	assert.EqualValues(t, 3, email.calls.Load())
}

func TestDispatch_NoCooldownByDefault(t *testing.T) {
	email := &fakeChannel{name: ChannelEmail, configured: true}
	c := NewController(email, nil)
	for i := 0; i < 3; i++ {
		assert.Equal(t, StatusSent, c.Dispatch(context.Background(), testUser(), highAlert()).Email.Status)
	}
}

func TestDispatch_RecordsLogAndMetrics(t *testing.T) {
	sentCounter := metrics.NotificationsTotal.WithLabelValues(ChannelEmail, string(StatusSent))
	skippedCounter := metrics.NotificationsTotal.WithLabelValues(ChannelWebhook, string(StatusSkipped))
	sentBefore := counterValue(t, sentCounter)
	skippedBefore := counterValue(t, skippedCounter)

	c := NewController(&fakeChannel{name: ChannelEmail, configured: true}, &fakeChannel{name: ChannelWebhook})
	c.Dispatch(context.Background(), testUser(), highAlert())

	assert.Equal(t, 1.0, counterValue(t, sentCounter)-sentBefore)
	assert.Equal(t, 1.0, counterValue(t, skippedCounter)-skippedBefore)

	entries := c.Log().ForUser("usr_1", 10)
	require.Len(t, entries, 2)
	assert.Equal(t, "alt_1", entries[0].AlertID)
	assert.Empty(t, c.Log().ForUser("usr_other", 10))
}

func TestOutcome_JSON(t *testing.T) {
	b, err := failed(ChannelWebhook, errors.New("status 500")).MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"failed","error":"notify: webhook delivery failed: status 500"}`, string(b))

	b, err = skipped(ReasonNotConfigured).MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"skipped","reason":"not configured"}`, string(b))
}

func TestLog_Ring(t *testing.T) {
	l := NewLog(3)
	for i, id := range []string{"a", "b", "c", "d"} {
		l.Add(Entry{UserID: "u", AlertID: id, Time: time.Unix(int64(i), 0)})
	}
	got := l.ForUser("", 0)
	require.Len(t, got, 3)
	assert.Equal(t, "d", got[0].AlertID)
	assert.Equal(t, "b", got[2].AlertID)

	assert.Len(t, l.ForUser("u", 2), 2)
}
