package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/cryptoguard/internal/account"
	"github.com/mbd888/cryptoguard/internal/alerts"
	"github.com/mbd888/cryptoguard/internal/auth"
	"github.com/mbd888/cryptoguard/internal/chain"
	"github.com/mbd888/cryptoguard/internal/monitor"
	"github.com/mbd888/cryptoguard/internal/notify"
	"github.com/mbd888/cryptoguard/internal/realtime"
	"github.com/mbd888/cryptoguard/internal/retry"
	"github.com/mbd888/cryptoguard/internal/risk"
	"github.com/mbd888/cryptoguard/internal/syncer"
	"github.com/mbd888/cryptoguard/internal/wallet"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

const ethAddr = "0x52908400098527886E0F7030069857D2E4169EE7"

type channel struct {
	name string
	mu   sync.Mutex
	sent []*alerts.Alert
}

func (c *channel) Name() string                    { return c.name }
func (c *channel) Configured(_ *account.User) bool { return true }
func (c *channel) Send(_ context.Context, _ *account.User, a *alerts.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, a)
	return nil
}

func (c *channel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type hub struct {
	mu     sync.Mutex
	events []*realtime.Event
}

func (h *hub) Broadcast(e *realtime.Event) {
	h.mu.Lock()
	h.events = append(h.events, e)
	h.mu.Unlock()
}

type env struct {
	router  *gin.Engine
	wallets *wallet.MemoryStore
	alerts  *alerts.MemoryStore
	fixture *chain.Fixture
	email   *channel
	access  *wallet.AccessCounter
	hub     *hub
}

var (
	alice = account.NewUser("usr_alice", "Alice", "alice@example.com", account.PlanFree, base)
	bob   = account.NewUser("usr_bob", "Bob", "bob@example.com", account.PlanPro, base)
)

// setup builds the handler over in-memory stores. Requests authenticate by
// naming the user in X-Test-User.
func setup(t *testing.T) *env {
	t.Helper()
	e := &env{
		wallets: wallet.NewMemoryStore(),
		alerts:  alerts.NewMemoryStore(),
		fixture: chain.NewFixture(),
		email:   &channel{name: notify.ChannelEmail},
		access:  wallet.NewAccessCounter(),
		hub:     &hub{},
	}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := func() time.Time { return base }

	sy := syncer.New(e.wallets, chain.NewRouter(e.fixture), syncer.DefaultFixedLiveness(),
		syncer.RateTable{wallet.NetworkETH: decimal.NewFromInt(2000)},
		syncer.WithRetry(retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond}),
		syncer.WithClock(now),
		syncer.WithLogger(quiet),
	)
	notifier := notify.NewController(e.email, nil, notify.WithLog(notify.NewLog(10)), notify.WithLogger(quiet))
	svc := monitor.NewService(e.wallets, e.alerts, sy, risk.NewEngine().WithClock(now), notifier,
		monitor.WithMetricsSource(e.access), monitor.WithLogger(quiet))

	h := NewHandler(e.wallets, e.alerts, sy, svc).
		WithNotifier(notifier).
		WithAccessCounter(e.access).
		WithBroadcaster(e.hub)
	h.now = now

	users := map[string]*account.User{alice.ID: alice, bob.ID: bob}
	e.router = gin.New()
	g := e.router.Group("/v1", func(c *gin.Context) {
		if u, ok := users[c.GetHeader("X-Test-User")]; ok {
			c.Set(auth.ContextKeyUser, u)
		}
		c.Next()
	})
	h.RegisterRoutes(g)
	return e
}

func (e *env) do(t *testing.T, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("X-Test-User", userID)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) seedWallet(t *testing.T, id, userID string) {
	t.Helper()
	require.NoError(t, e.wallets.Create(context.Background(), &wallet.Wallet{
		ID: id, UserID: userID, Label: "Main " + id, Network: wallet.NetworkETH,
		Address: strings.ToLower(ethAddr), Currency: "ETH", Balance: decimal.NewFromInt(2), CreatedAt: base,
	}))
}

func ethTx(id, walletID, amount, counterparty string, at time.Time) wallet.Transaction {
	return wallet.Transaction{
		ID: id, WalletID: walletID, Network: wallet.NetworkETH, Hash: "0x" + id,
		Direction: wallet.DirectionOutgoing, Counterparty: counterparty,
		Amount: decimal.RequireFromString(amount), Currency: "ETH",
		Timestamp: at, Status: wallet.StatusConfirmed, Risk: wallet.RiskLow,
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestRequiresUser(t *testing.T) {
	e := setup(t)
	w := e.do(t, http.MethodGet, "/v1/wallets/overview", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSupported(t *testing.T) {
	e := setup(t)
	w := e.do(t, http.MethodGet, "/v1/wallets/supported", alice.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"blockchains":["BTC","ETH","SOL"]}`, w.Body.String())
}

func TestConnect(t *testing.T) {
	e := setup(t)

	w := e.do(t, http.MethodPost, "/v1/wallets", alice.ID, gin.H{
		"address": ethAddr, "blockchain": "eth", "label": "Trading",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Wallet wallet.Wallet `json:"wallet"`
	}
	decode(t, w, &resp)
	assert.True(t, strings.HasPrefix(resp.Wallet.ID, "wal_"))
	assert.Equal(t, wallet.NetworkETH, resp.Wallet.Network)
	assert.Equal(t, strings.ToLower(ethAddr), resp.Wallet.Address)
	assert.Equal(t, "ETH", resp.Wallet.Currency)
	assert.Equal(t, 100, resp.Wallet.HealthScore)

	stored, err := e.wallets.Get(context.Background(), resp.Wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, stored.UserID)

	require.Len(t, e.hub.events, 1)
	assert.Equal(t, realtime.EventWallet, e.hub.events[0].Type)
}

func TestConnect_Validation(t *testing.T) {
	e := setup(t)

	tests := []struct {
		name string
		body gin.H
		want string
	}{
		{"missing label", gin.H{"address": ethAddr, "blockchain": "ETH"}, "Address, blockchain, and label are required"},
		{"unsupported network", gin.H{"address": ethAddr, "blockchain": "DOGE", "label": "x"}, "unsupported blockchain"},
		{"bad address", gin.H{"address": "0x123", "blockchain": "ETH", "label": "x"}, "must be a valid ETH address"},
		{"label too long", gin.H{"address": ethAddr, "blockchain": "ETH", "label": strings.Repeat("a", 200)}, "exceeds maximum length"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, http.MethodPost, "/v1/wallets", alice.ID, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
		})
	}

	n, _ := e.wallets.CountByUser(context.Background(), alice.ID)
	assert.Equal(t, 0, n)
}

func TestConnect_PlanLimit(t *testing.T) {
	e := setup(t)
	e.seedWallet(t, "wal_1", alice.ID)
	e.seedWallet(t, "wal_2", alice.ID)

	w := e.do(t, http.MethodPost, "/v1/wallets", alice.ID, gin.H{
		"address": ethAddr, "blockchain": "ETH", "label": "Third",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "Upgrade to add more than 2 wallets")
}

func TestConnect_ChainUnavailable(t *testing.T) {
	e := setup(t)

	// Wallet IDs are minted by the handler, so break the whole source.
	sy := syncer.New(e.wallets, chain.NewRouter(failingSource{}), syncer.DefaultFixedLiveness(), nil,
		syncer.WithRetry(retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond}))
	h := NewHandler(e.wallets, e.alerts, sy, nil)
	r := gin.New()
	g := r.Group("/v1", func(c *gin.Context) { c.Set(auth.ContextKeyUser, bob); c.Next() })
	h.RegisterRoutes(g)

	b, _ := json.Marshal(gin.H{"address": ethAddr, "blockchain": "ETH", "label": "x"})
	req := httptest.NewRequest(http.MethodPost, "/v1/wallets", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "chain_unavailable")
}

// slowSource is a real-chain source whose balance reads take a while, so
// concurrent connects overlap.
type slowSource struct{ delay time.Duration }

func (slowSource) Name() string    { return "slow" }
func (slowSource) Simulated() bool { return false }
func (s slowSource) Balance(_ context.Context, w *wallet.Wallet) (decimal.Decimal, error) {
	time.Sleep(s.delay)
	return decimal.NewFromInt(1), nil
}
func (slowSource) Transactions(context.Context, *wallet.Wallet, int) ([]wallet.Transaction, error) {
	return []wallet.Transaction{}, nil
}

func TestConnect_ConcurrentRespectsPlanLimit(t *testing.T) {
	e := setup(t)

	sy := syncer.New(e.wallets, chain.NewRouter(slowSource{delay: 20 * time.Millisecond}), syncer.DefaultFixedLiveness(), nil,
		syncer.WithRetry(retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond}))
	h := NewHandler(e.wallets, e.alerts, sy, nil)
	r := gin.New()
	g := r.Group("/v1", func(c *gin.Context) { c.Set(auth.ContextKeyUser, alice); c.Next() })
	h.RegisterRoutes(g)

	const attempts = 6
	codes := make([]int, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, _ := json.Marshal(gin.H{"address": ethAddr, "blockchain": "ETH", "label": "w" + strconv.Itoa(i)})
			req := httptest.NewRequest(http.MethodPost, "/v1/wallets", bytes.NewReader(b))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			codes[i] = w.Code
		}(i)
	}
	wg.Wait()

	var ok, limited int
	for _, code := range codes {
		switch code {
		case http.StatusCreated:
			ok++
		case http.StatusForbidden:
			limited++
		}
	}
	assert.Equal(t, 2, ok)
	assert.Equal(t, attempts-2, limited)

	n, err := e.wallets.CountByUser(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestConnect_DisabledNetwork(t *testing.T) {
	e := setup(t)

	sy := syncer.New(e.wallets, chain.NewRouter(e.fixture), syncer.DefaultFixedLiveness(), nil)
	h := NewHandler(e.wallets, e.alerts, sy, nil).WithNetworks(wallet.Networks{wallet.NetworkBTC})
	r := gin.New()
	g := r.Group("/v1", func(c *gin.Context) { c.Set(auth.ContextKeyUser, bob); c.Next() })
	h.RegisterRoutes(g)

	b, _ := json.Marshal(gin.H{"address": ethAddr, "blockchain": "ETH", "label": "x"})
	req := httptest.NewRequest(http.MethodPost, "/v1/wallets", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unsupported blockchain")

	req = httptest.NewRequest(http.MethodGet, "/v1/wallets/supported", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.JSONEq(t, `{"blockchains":["BTC"]}`, w.Body.String())
}

type failingSource struct{}

func (failingSource) Name() string    { return "failing" }
func (failingSource) Simulated() bool { return false }
func (failingSource) Balance(context.Context, *wallet.Wallet) (decimal.Decimal, error) {
	return decimal.Zero, chain.ErrUnavailable
}
func (failingSource) Transactions(context.Context, *wallet.Wallet, int) ([]wallet.Transaction, error) {
	return nil, chain.ErrUnavailable
}

func TestRemove(t *testing.T) {
	e := setup(t)
	e.seedWallet(t, "wal_1", alice.ID)
	require.NoError(t, e.alerts.Create(context.Background(), &alerts.Alert{
		ID: "alt_1", WalletID: "wal_1", Type: alerts.TypeLargeTransfer, Severity: alerts.SeverityHigh,
		CreatedAt: base, Source: alerts.SourcePersisted,
	}))
	e.access.RecordFailure("wal_1")

	// Someone else's wallet looks missing.
	w := e.do(t, http.MethodDelete, "/v1/wallets/wal_1", bob.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodDelete, "/v1/wallets/wal_1", alice.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	_, err := e.wallets.Get(context.Background(), "wal_1")
	assert.ErrorIs(t, err, wallet.ErrNotFound)
	n, _ := e.alerts.CountByWallets(context.Background(), []string{"wal_1"})
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, e.access.Metrics(context.Background(), "wal_1").FailedAttempts)

	w = e.do(t, http.MethodDelete, "/v1/wallets/wal_1", alice.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMalformedWalletID(t *testing.T) {
	e := setup(t)
	w := e.do(t, http.MethodGet, "/v1/wallets/not-an-id/transactions", alice.ID, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_id")
}

func TestTransactions(t *testing.T) {
	e := setup(t)
	e.seedWallet(t, "wal_1", alice.ID)
	e.fixture.SetTransactions("wal_1",
		ethTx("tx_old", "wal_1", "1", "0xaaa", base.Add(-2*time.Hour)),
		ethTx("tx_new", "wal_1", "2", "0xbbb", base.Add(-time.Hour)),
	)

	w := e.do(t, http.MethodGet, "/v1/wallets/wal_1/transactions", alice.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Wallet       wallet.Wallet        `json:"wallet"`
		Transactions []wallet.Transaction `json:"transactions"`
	}
	decode(t, w, &resp)
	assert.Equal(t, "wal_1", resp.Wallet.ID)
	require.Len(t, resp.Transactions, 2)
	assert.Equal(t, "tx_new", resp.Transactions[0].ID)

	w = e.do(t, http.MethodGet, "/v1/wallets/wal_1/transactions?limit=1", alice.ID, nil)
	decode(t, w, &resp)
	assert.Len(t, resp.Transactions, 1)

	w = e.do(t, http.MethodGet, "/v1/wallets/wal_1/transactions?limit=abc", alice.ID, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, "/v1/wallets/wal_1/transactions", bob.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Wallet not found")
}

func TestExport(t *testing.T) {
	e := setup(t)
	e.seedWallet(t, "wal_1", alice.ID)
	e.fixture.SetTransactions("wal_1", ethTx("tx_1", "wal_1", "1.5", "0xaaa", base))

	w := e.do(t, http.MethodGet, "/v1/wallets/wal_1/export", alice.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `attachment; filename="Main wal_1-report.csv"`, w.Header().Get("Content-Disposition"))
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "hash,direction,amount,currency,counterparty,status,timestamp", lines[0])
	assert.Contains(t, lines[1], "0xtx_1,outgoing,1.5,ETH,0xaaa,confirmed,")

	w = e.do(t, http.MethodGet, "/v1/wallets/wal_1/export?format=txt", alice.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "report.txt")

	w = e.do(t, http.MethodGet, "/v1/wallets/wal_1/export?format=xlsx", alice.ID, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOverview(t *testing.T) {
	e := setup(t)
	e.seedWallet(t, "wal_1", alice.ID)
	e.seedWallet(t, "wal_2", bob.ID)
	e.fixture.SetTransactions("wal_1", ethTx("tx_big", "wal_1", "7", "0xnew", base))
	require.NoError(t, e.wallets.AppendTransactions(context.Background(), "wal_1",
		ethTx("tx_big", "wal_1", "7", "0xnew", base)))

	w := e.do(t, http.MethodGet, "/v1/wallets/overview", alice.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Summary            monitor.Summary      `json:"summary"`
		Wallets            []wallet.Wallet      `json:"wallets"`
		RecentTransactions []wallet.Transaction `json:"recentTransactions"`
		GeneratedAlerts    []alerts.Alert       `json:"generatedAlerts"`
	}
	decode(t, w, &resp)
	assert.Equal(t, 1, resp.Summary.TotalWallets)
	assert.Equal(t, "4000", resp.Summary.TotalUSD.String())
	assert.Equal(t, 100, resp.Summary.AvgHealthScore)
	require.Len(t, resp.Wallets, 1)
	assert.Equal(t, "wal_1", resp.Wallets[0].ID)
	require.Len(t, resp.RecentTransactions, 1)
	assert.NotEmpty(t, resp.GeneratedAlerts)

	// Overview never notifies.
	assert.Equal(t, 0, e.email.count())
}

func TestAlerts_DispatchesAndMergesPersisted(t *testing.T) {
	e := setup(t)
	e.seedWallet(t, "wal_1", alice.ID)
	e.fixture.SetTransactions("wal_1", ethTx("tx_big", "wal_1", "7", "0xnew", base))
	require.NoError(t, e.alerts.Create(context.Background(), &alerts.Alert{
		ID: "alt_old", WalletID: "wal_1", Type: "new_counterparty", Severity: alerts.SeverityMedium,
		CreatedAt: base.Add(-time.Hour), Source: alerts.SourcePersisted,
	}))

	w := e.do(t, http.MethodGet, "/v1/wallets/alerts", alice.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Alerts        []alerts.Alert  `json:"alerts"`
		FailedWallets []string        `json:"failedWallets"`
		Dispatch      json.RawMessage `json:"dispatch"`
	}
	decode(t, w, &resp)
	require.GreaterOrEqual(t, len(resp.Alerts), 2)
	assert.Equal(t, "alt_old", resp.Alerts[0].ID)
	assert.Equal(t, alerts.TypeLargeTransfer, resp.Alerts[1].Type)
	assert.Empty(t, resp.FailedWallets)
	assert.Contains(t, string(resp.Dispatch), `"status":"sent"`)
	assert.Equal(t, 1, e.email.count())
}

func TestAlertHistory(t *testing.T) {
	e := setup(t)
	e.seedWallet(t, "wal_1", alice.ID)
	e.seedWallet(t, "wal_2", bob.ID)
	for i, id := range []string{"alt_a", "alt_b", "alt_c"} {
		require.NoError(t, e.alerts.Create(context.Background(), &alerts.Alert{
			ID: id, WalletID: "wal_1", Type: alerts.TypeLargeTransfer, Severity: alerts.SeverityHigh,
			CreatedAt: base.Add(time.Duration(i) * time.Minute), Source: alerts.SourcePersisted,
		}))
	}
	require.NoError(t, e.alerts.Create(context.Background(), &alerts.Alert{
		ID: "alt_bob", WalletID: "wal_2", Type: alerts.TypeLargeTransfer, Severity: alerts.SeverityHigh,
		CreatedAt: base, Source: alerts.SourcePersisted,
	}))

	var page struct {
		Alerts     []alerts.Alert `json:"alerts"`
		HasMore    bool           `json:"has_more"`
		NextCursor string         `json:"next_cursor"`
	}
	w := e.do(t, http.MethodGet, "/v1/wallets/alerts/history?limit=2", alice.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &page)
	require.Len(t, page.Alerts, 2)
	assert.Equal(t, "alt_c", page.Alerts[0].ID)
	assert.True(t, page.HasMore)

	w = e.do(t, http.MethodGet, "/v1/wallets/alerts/history?limit=2&cursor="+page.NextCursor, alice.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page.NextCursor = ""
	decode(t, w, &page)
	require.Len(t, page.Alerts, 1)
	assert.Equal(t, "alt_a", page.Alerts[0].ID)
	assert.False(t, page.HasMore)

	w = e.do(t, http.MethodGet, "/v1/wallets/alerts/history?cursor=garbage", alice.ID, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAccessFailures(t *testing.T) {
	e := setup(t)
	e.seedWallet(t, "wal_1", alice.ID)

	for i := 1; i <= 3; i++ {
		w := e.do(t, http.MethodPost, "/v1/wallets/wal_1/access-failures", alice.ID, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"failedAttempts":`+strconv.Itoa(i))
	}

	w := e.do(t, http.MethodGet, "/v1/wallets/alerts", alice.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(alerts.TypeRepeatedFailures))

	w = e.do(t, http.MethodDelete, "/v1/wallets/wal_1/access-failures", alice.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, e.access.Metrics(context.Background(), "wal_1").FailedAttempts)

	w = e.do(t, http.MethodPost, "/v1/wallets/wal_1/access-failures", bob.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTestNotification(t *testing.T) {
	e := setup(t)

	w := e.do(t, http.MethodPost, "/v1/notifications/test", alice.ID, gin.H{"message": "hello"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Notification dispatched")
	require.Equal(t, 1, e.email.count())
	assert.Equal(t, alerts.SeverityInfo, e.email.sent[0].Severity)
	assert.Equal(t, alerts.TypeTestNotification, e.email.sent[0].Type)
	assert.Equal(t, "hello", e.email.sent[0].Detail)

	// Empty body uses the default text.
	w = e.do(t, http.MethodPost, "/v1/notifications/test", alice.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "This is a test notification", e.email.sent[1].Detail)

	w = e.do(t, http.MethodGet, "/v1/notifications", alice.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	// Two email sends plus two skipped webhook outcomes.
	assert.Contains(t, w.Body.String(), `"count":4`)

	w = e.do(t, http.MethodGet, "/v1/notifications", bob.ID, nil)
	assert.Contains(t, w.Body.String(), `"count":0`)
}
