// Package admin provides the cross-account endpoints available to
// enterprise users and operators.
package admin

import (
	"github.com/shopspring/decimal"

	"github.com/mbd888/cryptoguard/internal/account"
)

// Overview is the platform-wide summary.
type Overview struct {
	TotalUsers        int             `json:"totalUsers"`
	TotalWallets      int             `json:"totalWallets"`
	AggregatedBalance decimal.Decimal `json:"aggregatedBalance"` // native units summed across networks, 4 dp
	HighRiskCount     int             `json:"highRiskCount"`
}

// ReportEntry describes one wallet's export without returning the body.
type ReportEntry struct {
	WalletID    string `json:"walletId"`
	WalletLabel string `json:"walletLabel"`
	Filename    string `json:"filename"`
	Size        int    `json:"size"`
}

// UserSummary is a user row in the admin listing.
type UserSummary struct {
	*account.User
	WalletCount int `json:"walletCount"`
}
