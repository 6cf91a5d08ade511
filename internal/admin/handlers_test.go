package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/cryptoguard/internal/account"
	"github.com/mbd888/cryptoguard/internal/notify"
	"github.com/mbd888/cryptoguard/internal/wallet"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type storeTxs struct{ store wallet.Store }

func (s storeTxs) FetchTransactions(ctx context.Context, walletID string, limit int) ([]wallet.Transaction, error) {
	return s.store.ListTransactions(ctx, walletID, limit)
}

type countingSweeper struct{ calls int }

func (s *countingSweeper) Sweep(context.Context) int {
	s.calls++
	return 3
}

func setup(t *testing.T) (*gin.Engine, *Handler) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	users := account.NewMemoryStore()
	require.NoError(t, users.Create(ctx, account.NewUser("usr_a", "Ada", "ada@example.com", account.PlanEnterprise, now)))
	require.NoError(t, users.Create(ctx, account.NewUser("usr_b", "Bo", "bo@example.com", account.PlanFree, now.Add(time.Minute))))

	wallets := wallet.NewMemoryStore()
	require.NoError(t, wallets.Create(ctx, &wallet.Wallet{ID: "wal_1", UserID: "usr_a", Label: "Cold", Network: wallet.NetworkBTC,
		Balance: decimal.RequireFromString("1.23456"), CreatedAt: now}))
	require.NoError(t, wallets.Create(ctx, &wallet.Wallet{ID: "wal_2", UserID: "usr_a", Label: "Hot", Network: wallet.NetworkETH,
		Balance: decimal.RequireFromString("2"), CreatedAt: now.Add(time.Second)}))
	require.NoError(t, wallets.AppendTransactions(ctx, "wal_2",
		wallet.Transaction{ID: "tx_1", Hash: "0x1", Direction: wallet.DirectionOutgoing, Amount: decimal.NewFromInt(9),
			Currency: "ETH", Counterparty: "0xabc", Status: wallet.StatusConfirmed, Timestamp: now, Risk: wallet.RiskHigh},
		wallet.Transaction{ID: "tx_2", Hash: "0x2", Direction: wallet.DirectionIncoming, Amount: decimal.NewFromInt(1),
			Currency: "ETH", Counterparty: "0xdef", Status: wallet.StatusConfirmed, Timestamp: now, Risk: wallet.RiskLow},
	))

	h := NewHandler(users, wallets, storeTxs{wallets})
	r := gin.New()
	h.RegisterRoutes(r.Group("/v1"))
	return r, h
}

func get(r http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestOverview(t *testing.T) {
	r, _ := setup(t)

	w := get(r, http.MethodGet, "/v1/admin/overview")
	require.Equal(t, http.StatusOK, w.Code)

	var o Overview
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &o))
	assert.Equal(t, 2, o.TotalUsers)
	assert.Equal(t, 2, o.TotalWallets)
	assert.Equal(t, "3.2346", o.AggregatedBalance.String())
	assert.Equal(t, 1, o.HighRiskCount)
}

func TestListUsers(t *testing.T) {
	r, _ := setup(t)

	w := get(r, http.MethodGet, "/v1/admin/users")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Users []struct {
			ID          string `json:"id"`
			Email       string `json:"email"`
			Role        string `json:"role"`
			WalletCount int    `json:"walletCount"`
		} `json:"users"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Users, 2)
	assert.Equal(t, "usr_a", resp.Users[0].ID)
	assert.Equal(t, "enterprise", resp.Users[0].Role)
	assert.Equal(t, 2, resp.Users[0].WalletCount)
	assert.Equal(t, 0, resp.Users[1].WalletCount)
}

func TestUserReports(t *testing.T) {
	r, _ := setup(t)

	w := get(r, http.MethodGet, "/v1/admin/reports/usr_a")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Reports []ReportEntry `json:"reports"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Reports, 2)
	assert.Equal(t, "Cold", resp.Reports[0].WalletLabel)
	assert.Equal(t, "Cold-report.csv", resp.Reports[0].Filename)
	assert.Equal(t, "Hot-report.csv", resp.Reports[1].Filename)
	// Header only vs header plus two rows.
	assert.Greater(t, resp.Reports[1].Size, resp.Reports[0].Size)
}

func TestUserReports_NoWallets(t *testing.T) {
	r, _ := setup(t)

	for _, id := range []string{"usr_b", "usr_missing"} {
		w := get(r, http.MethodGet, "/v1/admin/reports/"+id)
		assert.Equal(t, http.StatusNotFound, w.Code, id)
		assert.Contains(t, w.Body.String(), "User or wallets not found")
	}
}

func TestSweep(t *testing.T) {
	r, h := setup(t)

	w := get(r, http.MethodPost, "/v1/admin/sweep")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	s := &countingSweeper{}
	h.WithSweeper(s)
	w = get(r, http.MethodPost, "/v1/admin/sweep")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"users":3`)
	assert.Equal(t, 1, s.calls)
}

func TestNotifications(t *testing.T) {
	r, h := setup(t)

	w := get(r, http.MethodGet, "/v1/admin/notifications")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	log := notify.NewLog(10)
	log.Add(notify.Entry{UserID: "usr_a", Channel: notify.ChannelEmail, Outcome: notify.Outcome{Status: notify.StatusSent}})
	log.Add(notify.Entry{UserID: "usr_b", Channel: notify.ChannelWebhook, Outcome: notify.Outcome{Status: notify.StatusSkipped, Reason: notify.ReasonNotConfigured}})
	h.WithNotificationLog(log)

	w = get(r, http.MethodGet, "/v1/admin/notifications")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":2`)

	w = get(r, http.MethodGet, "/v1/admin/notifications?userId=usr_b&limit=5")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
	assert.Contains(t, w.Body.String(), `"reason":"not configured"`)
}
