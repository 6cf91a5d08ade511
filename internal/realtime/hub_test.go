package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/cryptoguard/internal/alerts"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_OwnerOnly(t *testing.T) {
	h := testHub()
	client := &Client{userID: "usr_1", sub: Subscription{AllEvents: true}}

	assert.True(t, h.shouldSend(client, &Event{Type: EventCycle, UserID: "usr_1"}))
	assert.False(t, h.shouldSend(client, &Event{Type: EventCycle, UserID: "usr_2"}))
	assert.False(t, h.shouldSend(client, &Event{Type: EventCycle}))
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()
	client := &Client{userID: "u", sub: Subscription{
		EventTypes: []EventType{EventAlert, EventDispatch},
	}}

	assert.True(t, h.shouldSend(client, &Event{Type: EventAlert, UserID: "u"}))
	assert.True(t, h.shouldSend(client, &Event{Type: EventDispatch, UserID: "u"}))
	assert.False(t, h.shouldSend(client, &Event{Type: EventCycle, UserID: "u"}))
}

func TestShouldSend_WalletFilter(t *testing.T) {
	h := testHub()
	client := &Client{userID: "u", sub: Subscription{WalletIDs: []string{"wal_1"}}}

	assert.True(t, h.shouldSend(client, &Event{Type: EventAlert, UserID: "u", WalletID: "wal_1"}))
	assert.False(t, h.shouldSend(client, &Event{Type: EventAlert, UserID: "u", WalletID: "wal_2"}))
	// Events not tied to a wallet pass through.
	assert.True(t, h.shouldSend(client, &Event{Type: EventCycle, UserID: "u"}))
}

func TestShouldSend_MinSeverity(t *testing.T) {
	h := testHub()
	client := &Client{userID: "u", sub: Subscription{MinSeverity: alerts.SeverityHigh}}

	assert.True(t, h.shouldSend(client, &Event{Type: EventAlert, UserID: "u", Severity: alerts.SeverityHigh}))
	assert.False(t, h.shouldSend(client, &Event{Type: EventAlert, UserID: "u", Severity: alerts.SeverityMedium}))
	assert.True(t, h.shouldSend(client, &Event{Type: EventCycle, UserID: "u"}), "severity filter only applies to alerts")
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()
	client := &Client{userID: "u", sub: Subscription{}}
	assert.True(t, h.shouldSend(client, &Event{Type: EventWallet, UserID: "u"}))
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	stats := testHub().Stats()
	assert.Equal(t, 0, stats["connectedClients"])
	assert.Equal(t, int64(0), stats["totalEvents"])
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 256), userID: "u", sub: Subscription{AllEvents: true}}
	h.register <- client
	require.Eventually(t, func() bool { return h.Stats()["connectedClients"] == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), h.Stats()["peakClients"])

	h.unregister <- client
	require.Eventually(t, func() bool { return h.Stats()["connectedClients"] == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), h.Stats()["peakClients"])
}

func TestHub_BroadcastAlertToOwner(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)

	owner := &Client{hub: h, send: make(chan []byte, 256), userID: "usr_1", sub: Subscription{AllEvents: true}}
	other := &Client{hub: h, send: make(chan []byte, 256), userID: "usr_2", sub: Subscription{AllEvents: true}}
	h.register <- owner
	h.register <- other

	a := alerts.Alert{ID: "alt_1", WalletID: "wal_1", Severity: alerts.SeverityHigh, Type: alerts.TypeLargeTransfer}
	h.Broadcast(&Event{Type: EventAlert, UserID: "usr_1", WalletID: a.WalletID, Severity: a.Severity, Data: a})

	select {
	case msg := <-owner.send:
		var ev map[string]interface{}
		require.NoError(t, json.Unmarshal(msg, &ev))
		assert.Equal(t, "alert", ev["type"])
		assert.Equal(t, "wal_1", ev["walletId"])
		assert.NotContains(t, ev, "UserID")
	case <-time.After(time.Second):
		t.Fatal("owner did not receive alert")
	}

	select {
	case <-other.send:
		t.Fatal("other user received alert")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop after context cancellation")
	}
}

func TestHub_WebSocketEndToEnd(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.HandleWebSocket(w, r, "usr_ws")
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.Stats()["connectedClients"] == 1 }, time.Second, 10*time.Millisecond)

	h.Broadcast(&Event{Type: EventCycle, UserID: "usr_ws", Data: map[string]int{"wallets": 2}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"type":"cycle"`)
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	h := NewHub(slog.Default(), "http://localhost:5173")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.HandleWebSocket(w, r, "u")
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	assert.Error(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://localhost:5173"}})
	require.NoError(t, err)
	_ = conn.Close()
}
