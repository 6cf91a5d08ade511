package wallet

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store persists wallets and their transaction histories.
//
// Implementations must allow concurrent readers and serialize writers per
// wallet. Writers to different wallets must not contend.
type Store interface {
	Create(ctx context.Context, w *Wallet) error
	Get(ctx context.Context, id string) (*Wallet, error)
	ListByUser(ctx context.Context, userID string) ([]*Wallet, error)
	ListAll(ctx context.Context) ([]*Wallet, error)
	CountByUser(ctx context.Context, userID string) (int, error)
	UpdateState(ctx context.Context, id string, balance, usdValue decimal.Decimal, healthScore int, syncedAt time.Time) error
	Delete(ctx context.Context, id, userID string) error

	// AppendTransactions adds to a wallet's history. Transactions whose ID
	// is already stored are ignored.
	AppendTransactions(ctx context.Context, walletID string, txs ...Transaction) error
	// ListTransactions returns up to limit transactions, newest first.
	// An unknown wallet yields an empty result.
	ListTransactions(ctx context.Context, walletID string, limit int) ([]Transaction, error)
	// ListRecentForWallets returns up to limit transactions across the
	// given wallets, newest first.
	ListRecentForWallets(ctx context.Context, walletIDs []string, limit int) ([]Transaction, error)
	CountHighRisk(ctx context.Context) (int, error)
}
