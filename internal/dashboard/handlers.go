// Package dashboard provides the wallet and notification endpoints behind
// the user dashboard.
package dashboard

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/cryptoguard/internal/account"
	"github.com/mbd888/cryptoguard/internal/alerts"
	"github.com/mbd888/cryptoguard/internal/auth"
	"github.com/mbd888/cryptoguard/internal/chain"
	"github.com/mbd888/cryptoguard/internal/circuitbreaker"
	"github.com/mbd888/cryptoguard/internal/idgen"
	"github.com/mbd888/cryptoguard/internal/logging"
	"github.com/mbd888/cryptoguard/internal/monitor"
	"github.com/mbd888/cryptoguard/internal/notify"
	"github.com/mbd888/cryptoguard/internal/pagination"
	"github.com/mbd888/cryptoguard/internal/realtime"
	"github.com/mbd888/cryptoguard/internal/report"
	"github.com/mbd888/cryptoguard/internal/syncer"
	"github.com/mbd888/cryptoguard/internal/syncutil"
	"github.com/mbd888/cryptoguard/internal/validation"
	"github.com/mbd888/cryptoguard/internal/wallet"
)

// Handler provides dashboard API endpoints.
type Handler struct {
	wallets wallet.Store
	alerts  alerts.Store
	syncer  *syncer.Synchronizer
	monitor *monitor.Service

	notifier *notify.Controller
	failures *wallet.AccessCounter
	hub      monitor.Broadcaster
	networks wallet.Networks
	connects *syncutil.KeyLock // per user, spans the plan check and create
	recent   int
	now      func() time.Time
}

// NewHandler creates a new dashboard handler.
func NewHandler(wallets wallet.Store, alertStore alerts.Store, sync *syncer.Synchronizer, svc *monitor.Service) *Handler {
	return &Handler{
		wallets: wallets,
		alerts:  alertStore,
		syncer:  sync,
		monitor:  svc,
		networks: wallet.AllNetworks,
		connects: syncutil.NewKeyLock(0),
		recent:   monitor.DefaultRecentTxs,
		now:      time.Now,
	}
}

// WithNetworks restricts connects to the enabled networks.
func (h *Handler) WithNetworks(ns wallet.Networks) *Handler {
	if len(ns) > 0 {
		h.networks = ns
	}
	return h
}

// WithNotifier enables the notification endpoints.
func (h *Handler) WithNotifier(n *notify.Controller) *Handler {
	h.notifier = n
	return h
}

// WithAccessCounter enables the access-failure endpoints.
func (h *Handler) WithAccessCounter(c *wallet.AccessCounter) *Handler {
	h.failures = c
	return h
}

// WithBroadcaster publishes wallet connect/remove events.
func (h *Handler) WithBroadcaster(b monitor.Broadcaster) *Handler {
	h.hub = b
	return h
}

// RegisterRoutes sets up dashboard routes. Routes require an authenticated
// user (enforced by caller middleware).
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	w := r.Group("/wallets")
	w.GET("/supported", h.Supported)
	w.GET("/overview", h.Overview)
	w.GET("/alerts", h.Alerts)
	w.GET("/alerts/history", h.AlertHistory)
	w.POST("", h.Connect)

	owned := w.Group("/:walletId", validation.IDParamMiddleware("walletId"))
	owned.DELETE("", h.Remove)
	owned.GET("/transactions", h.Transactions)
	owned.GET("/export", h.Export)
	owned.POST("/access-failures", h.RecordAccessFailure)
	owned.DELETE("/access-failures", h.ResetAccessFailures)

	r.POST("/notifications/test", h.TestNotification)
	r.GET("/notifications", h.Notifications)
}

// Supported lists the networks wallets can be connected on.
func (h *Handler) Supported(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"blockchains": h.networks})
}

// Overview evaluates every wallet without dispatching and returns the
// dashboard totals.
func (h *Handler) Overview(c *gin.Context) {
	u, ok := requireUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	rep, err := h.monitor.Evaluate(ctx, u)
	if err != nil {
		internalError(c, "evaluate wallets", err)
		return
	}

	synced := rep.SyncedWallets()
	ids := make([]string, len(synced))
	for i := range synced {
		ids[i] = synced[i].ID
	}
	recent := []wallet.Transaction{}
	if len(ids) > 0 {
		recent, err = h.wallets.ListRecentForWallets(ctx, ids, h.recent)
		if err != nil {
			internalError(c, "list recent transactions", err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"summary":            rep.Summary,
		"wallets":            synced,
		"recentTransactions": recent,
		"generatedAlerts":    rep.Generated,
	})
}

// Alerts runs a full cycle, dispatching the first high severity alert, and
// returns persisted plus generated alerts.
func (h *Handler) Alerts(c *gin.Context) {
	u, ok := requireUser(c)
	if !ok {
		return
	}

	rep, err := h.monitor.RunCycle(c.Request.Context(), u)
	if err != nil {
		internalError(c, "run monitoring cycle", err)
		return
	}

	failed := []string{}
	for _, wr := range rep.Failed() {
		failed = append(failed, wr.Wallet.ID)
	}
	resp := gin.H{
		"alerts":        rep.Result.Combined,
		"failedWallets": failed,
	}
	if rep.Dispatch != nil {
		resp["dispatch"] = rep.Dispatch
	}
	c.JSON(http.StatusOK, resp)
}

// AlertHistory pages through persisted alerts for the caller's wallets.
func (h *Handler) AlertHistory(c *gin.Context) {
	u, ok := requireUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	owned, err := h.wallets.ListByUser(ctx, u.ID)
	if err != nil {
		internalError(c, "list wallets", err)
		return
	}
	if len(owned) == 0 {
		c.JSON(http.StatusOK, gin.H{"alerts": []alerts.Alert{}, "count": 0, "has_more": false})
		return
	}
	ids := make([]string, len(owned))
	for i, w := range owned {
		ids[i] = w.ID
	}

	list, next, err := h.alerts.ListByWallets(ctx, ids, parseLimit(c, 50, 200), c.Query("cursor"))
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidCursor) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": "cursor is malformed"})
			return
		}
		internalError(c, "list alerts", err)
		return
	}

	resp := gin.H{"alerts": list, "count": len(list), "has_more": next != ""}
	if next != "" {
		resp["next_cursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

type connectRequest struct {
	Address    string `json:"address"`
	Blockchain string `json:"blockchain"`
	Label      string `json:"label"`
}

// Connect registers a new wallet for the caller.
func (h *Handler) Connect(c *gin.Context) {
	u, ok := requireUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}
	if req.Address == "" || req.Blockchain == "" || req.Label == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": "Address, blockchain, and label are required",
		})
		return
	}
	if errs := validation.Validate(
		validation.SupportedNetwork("blockchain", req.Blockchain, h.networks),
		validation.ValidAddress("address", req.Blockchain, req.Address),
		validation.MaxLength("label", req.Label, validation.MaxLabelLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}
	network, _ := h.networks.Parse(req.Blockchain)

	unlock, err := h.connects.LockContext(ctx, u.ID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request_cancelled", "message": "Request cancelled"})
		return
	}
	defer unlock()

	count, err := h.wallets.CountByUser(ctx, u.ID)
	if err != nil {
		internalError(c, "count wallets", err)
		return
	}
	if err := account.CheckWalletLimit(u.Plan, count); err != nil {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "plan_limit",
			"message": fmt.Sprintf("Plan limit reached. Upgrade to add more than %d wallets.", account.ConfigFor(u.Plan).MaxWallets),
		})
		return
	}

	w := &wallet.Wallet{
		ID:       idgen.WithPrefix(idgen.PrefixWallet),
		UserID:   u.ID,
		Label:    validation.SanitizeString(req.Label, validation.MaxLabelLength),
		Network:  network,
		Address:  validation.SanitizeAddress(network, req.Address),
		Currency: network.Currency(),
		Tags:     []string{},
	}
	if err := h.syncer.Connect(ctx, w); err != nil {
		if errors.Is(err, chain.ErrUnavailable) || errors.Is(err, circuitbreaker.ErrOpen) {
			logging.L(ctx).Warn("chain source unavailable on connect", "network", network, "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "chain_unavailable",
				"message": "Could not read the opening balance, try again later",
			})
			return
		}
		internalError(c, "connect wallet", err)
		return
	}

	logging.L(ctx).Info("wallet connected", "wallet_id", w.ID, "network", w.Network)
	h.broadcast(u.ID, w.ID, "connected")
	c.JSON(http.StatusCreated, gin.H{"wallet": w})
}

// Remove deletes one of the caller's wallets along with its alerts.
func (h *Handler) Remove(c *gin.Context) {
	u, ok := requireUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	id := c.Param("walletId")

	if err := h.wallets.Delete(ctx, id, u.ID); err != nil {
		if errors.Is(err, wallet.ErrNotFound) {
			walletNotFound(c)
			return
		}
		internalError(c, "delete wallet", err)
		return
	}
	if err := h.alerts.DeleteByWallet(ctx, id); err != nil {
		logging.L(ctx).Warn("failed to delete wallet alerts", "wallet_id", id, "error", err)
	}
	if h.failures != nil {
		h.failures.Reset(id)
	}

	h.broadcast(u.ID, id, "removed")
	c.Status(http.StatusNoContent)
}

// Transactions returns a window of the wallet's history, newest first.
func (h *Handler) Transactions(c *gin.Context) {
	w, ok := h.ownedWallet(c)
	if !ok {
		return
	}

	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit", "message": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	txs, err := h.syncer.FetchTransactions(c.Request.Context(), w.ID, limit)
	if err != nil {
		internalError(c, "fetch transactions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet": w, "transactions": txs})
}

// Export streams a transaction report as an attachment.
func (h *Handler) Export(c *gin.Context) {
	w, ok := h.ownedWallet(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	format, err := report.ParseFormat(c.Query("format"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_format", "message": "format must be csv or txt"})
		return
	}

	txs, err := h.syncer.FetchTransactions(ctx, w.ID, report.DefaultLimit)
	if err != nil {
		internalError(c, "fetch transactions", err)
		return
	}
	f, err := report.Generate(w, txs, format, h.now())
	if err != nil {
		internalError(c, "render report", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, f.Filename))
	c.Data(http.StatusOK, f.MIME, f.Body)
}

// RecordAccessFailure counts a failed access attempt against the wallet.
// The count feeds the repeated-failures rule on the next cycle.
func (h *Handler) RecordAccessFailure(c *gin.Context) {
	if h.failures == nil {
		unavailable(c, "access failure tracking not configured")
		return
	}
	w, ok := h.ownedWallet(c)
	if !ok {
		return
	}
	n := h.failures.RecordFailure(w.ID)
	c.JSON(http.StatusOK, gin.H{"walletId": w.ID, "failedAttempts": n})
}

// ResetAccessFailures clears the wallet's failure count.
func (h *Handler) ResetAccessFailures(c *gin.Context) {
	if h.failures == nil {
		unavailable(c, "access failure tracking not configured")
		return
	}
	w, ok := h.ownedWallet(c)
	if !ok {
		return
	}
	h.failures.Reset(w.ID)
	c.Status(http.StatusNoContent)
}

type testNotificationRequest struct {
	Message string `json:"message"`
}

// TestNotification sends an info alert through every channel.
func (h *Handler) TestNotification(c *gin.Context) {
	if h.notifier == nil {
		unavailable(c, "notifications not configured")
		return
	}
	u, ok := requireUser(c)
	if !ok {
		return
	}

	var req testNotificationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
			return
		}
	}
	detail := validation.SanitizeString(req.Message, validation.MaxStringLength)
	if detail == "" {
		detail = "This is a test notification"
	}

	a := &alerts.Alert{
		ID:        idgen.WithPrefix(idgen.PrefixAlert),
		Type:      alerts.TypeTestNotification,
		Severity:  alerts.SeverityInfo,
		Detail:    detail,
		CreatedAt: h.now(),
		Source:    alerts.SourceGenerated,
	}
	res := h.notifier.Dispatch(c.Request.Context(), u, a)
	c.JSON(http.StatusOK, gin.H{"message": "Notification dispatched", "result": res})
}

// Notifications returns the caller's recent delivery outcomes.
func (h *Handler) Notifications(c *gin.Context) {
	if h.notifier == nil || h.notifier.Log() == nil {
		unavailable(c, "notification log not configured")
		return
	}
	u, ok := requireUser(c)
	if !ok {
		return
	}
	entries := h.notifier.Log().ForUser(u.ID, parseLimit(c, 50, 500))
	c.JSON(http.StatusOK, gin.H{"notifications": entries, "count": len(entries)})
}

// ownedWallet loads :walletId and checks it belongs to the caller. Wallets
// owned by someone else are reported as not found.
func (h *Handler) ownedWallet(c *gin.Context) (*wallet.Wallet, bool) {
	u, ok := requireUser(c)
	if !ok {
		return nil, false
	}
	w, err := h.wallets.Get(c.Request.Context(), c.Param("walletId"))
	if err != nil {
		if errors.Is(err, wallet.ErrNotFound) {
			walletNotFound(c)
			return nil, false
		}
		internalError(c, "get wallet", err)
		return nil, false
	}
	if w.UserID != u.ID {
		walletNotFound(c)
		return nil, false
	}
	return w, true
}

func (h *Handler) broadcast(userID, walletID, action string) {
	if h.hub == nil {
		return
	}
	h.hub.Broadcast(&realtime.Event{
		Type:     realtime.EventWallet,
		UserID:   userID,
		WalletID: walletID,
		Data:     gin.H{"action": action},
	})
}

func requireUser(c *gin.Context) (*account.User, bool) {
	u, ok := auth.GetUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "API key required"})
		return nil, false
	}
	return u, true
}

func walletNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Wallet not found"})
}

func unavailable(c *gin.Context, msg string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable", "message": msg})
}

func internalError(c *gin.Context, op string, err error) {
	logging.L(c.Request.Context()).Error("dashboard: "+op+" failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "Failed to " + op,
	})
}

func parseLimit(c *gin.Context, defaultVal, maxVal int) int {
	limit := defaultVal
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxVal {
		limit = maxVal
	}
	return limit
}
