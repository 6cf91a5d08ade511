package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/mbd888/cryptoguard/internal/account"
	"github.com/mbd888/cryptoguard/internal/logging"
	"github.com/mbd888/cryptoguard/internal/notify"
	"github.com/mbd888/cryptoguard/internal/report"
	"github.com/mbd888/cryptoguard/internal/wallet"
)

// TransactionSource returns a wallet's transaction window.
type TransactionSource interface {
	FetchTransactions(ctx context.Context, walletID string, limit int) ([]wallet.Transaction, error)
}

// Sweeper runs one scheduled monitoring pass on demand.
type Sweeper interface {
	Sweep(ctx context.Context) int
}

// Handler provides admin HTTP endpoints.
type Handler struct {
	users   account.Store
	wallets wallet.Store
	txs     TransactionSource

	sweeper Sweeper
	log     *notify.Log
}

// NewHandler creates a new admin handler.
func NewHandler(users account.Store, wallets wallet.Store, txs TransactionSource) *Handler {
	return &Handler{users: users, wallets: wallets, txs: txs}
}

// WithSweeper enables POST /admin/sweep.
func (h *Handler) WithSweeper(s Sweeper) *Handler {
	h.sweeper = s
	return h
}

// WithNotificationLog enables GET /admin/notifications.
func (h *Handler) WithNotificationLog(l *notify.Log) *Handler {
	h.log = l
	return h
}

// RegisterRoutes sets up admin routes. The caller applies the admin guard.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/admin/overview", h.overview)
	r.GET("/admin/users", h.listUsers)
	r.GET("/admin/reports/:userId", h.userReports)
	r.POST("/admin/sweep", h.sweep)
	r.GET("/admin/notifications", h.notifications)
}

func (h *Handler) overview(c *gin.Context) {
	ctx := c.Request.Context()

	totalUsers, err := h.users.Count(ctx)
	if err != nil {
		internalError(c, "count users", err)
		return
	}
	all, err := h.wallets.ListAll(ctx)
	if err != nil {
		internalError(c, "list wallets", err)
		return
	}
	highRisk, err := h.wallets.CountHighRisk(ctx)
	if err != nil {
		internalError(c, "count high risk", err)
		return
	}

	balance := decimal.Zero
	for _, w := range all {
		balance = balance.Add(w.Balance)
	}

	c.JSON(http.StatusOK, Overview{
		TotalUsers:        totalUsers,
		TotalWallets:      len(all),
		AggregatedBalance: balance.Round(4),
		HighRiskCount:     highRisk,
	})
}

func (h *Handler) listUsers(c *gin.Context) {
	ctx := c.Request.Context()

	users, err := h.users.List(ctx)
	if err != nil {
		internalError(c, "list users", err)
		return
	}

	out := make([]UserSummary, 0, len(users))
	for _, u := range users {
		n, err := h.wallets.CountByUser(ctx, u.ID)
		if err != nil {
			internalError(c, "count wallets", err)
			return
		}
		out = append(out, UserSummary{User: u, WalletCount: n})
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

func (h *Handler) userReports(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.Param("userId")

	owned, err := h.wallets.ListByUser(ctx, userID)
	if err != nil {
		internalError(c, "list wallets", err)
		return
	}
	if len(owned) == 0 {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "User or wallets not found",
		})
		return
	}

	reports := make([]ReportEntry, 0, len(owned))
	for _, w := range owned {
		txs, err := h.txs.FetchTransactions(ctx, w.ID, report.DefaultLimit)
		if err != nil {
			logging.L(ctx).Warn("report transactions unavailable", "wallet_id", w.ID, "error", err)
			txs = nil
		}
		f, err := report.CSV(w, txs)
		if err != nil {
			internalError(c, "render report", err)
			return
		}
		reports = append(reports, ReportEntry{
			WalletID:    w.ID,
			WalletLabel: w.Label,
			Filename:    f.Filename,
			Size:        f.Size(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

func (h *Handler) sweep(c *gin.Context) {
	if h.sweeper == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable", "message": "monitor worker not configured"})
		return
	}
	start := time.Now()
	ran := h.sweeper.Sweep(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"users":      ran,
		"durationMs": time.Since(start).Milliseconds(),
	})
}

func (h *Handler) notifications(c *gin.Context) {
	if h.log == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable", "message": "notification log not configured"})
		return
	}
	limit := 100
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	entries := h.log.ForUser(c.Query("userId"), limit)
	c.JSON(http.StatusOK, gin.H{"notifications": entries, "count": len(entries)})
}

func internalError(c *gin.Context, op string, err error) {
	logging.L(c.Request.Context()).Error("admin: "+op+" failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "Failed to " + op,
	})
}
