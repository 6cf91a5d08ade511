// Package alerts defines risk alerts, merges generated alerts with the
// persisted history, and stores them.
package alerts

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/cryptoguard/internal/wallet"
)

var ErrNotFound = errors.New("alerts: not found")

// Type classifies an alert. The set is open: persisted history may carry
// types no current rule produces.
type Type string

const (
	TypeLargeTransfer       Type = "large_transfer"
	TypeUnknownCounterparty Type = "unknown_counterparty"
	TypeHighRiskProvider    Type = "high_risk_provider"
	TypeRepeatedFailures    Type = "repeated_failures"
	TypeTestNotification    Type = "test_notification"
)

// Severity of an alert.
type Severity string

const (
	SeverityInfo   Severity = "info" // test notifications only
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities; unknown values rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Source records where an alert came from.
type Source string

const (
	SourcePersisted Source = "persisted"
	SourceGenerated Source = "generated"
)

// Alert is an immutable risk finding for one wallet.
type Alert struct {
	ID        string              `json:"id"`
	WalletID  string              `json:"walletId"`
	Type      Type                `json:"type"`
	Severity  Severity            `json:"severity"`
	Detail    string              `json:"detail"`
	TxID      string              `json:"txId,omitempty"`
	Tx        *wallet.Transaction `json:"tx,omitempty"`
	CreatedAt time.Time           `json:"createdAt"`
	Source    Source              `json:"source"`
}

// Store persists alerts. Listings are newest first.
type Store interface {
	Create(ctx context.Context, a *Alert) error
	// ListByWallets returns up to limit alerts across walletIDs older than
	// cursor, and the cursor for the next page ("" when exhausted).
	ListByWallets(ctx context.Context, walletIDs []string, limit int, cursor string) ([]Alert, string, error)
	DeleteByWallet(ctx context.Context, walletID string) error
	CountByWallets(ctx context.Context, walletIDs []string) (int, error)
}

func cloneAlert(a *Alert) Alert {
	cp := *a
	if a.Tx != nil {
		tx := *a.Tx
		cp.Tx = &tx
	}
	return cp
}
