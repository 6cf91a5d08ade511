package chain

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/mbd888/cryptoguard/internal/wallet"
)

// Simulator serves balances and histories straight from the wallet store.
// Drift and synthetic activity are layered on by the synchronizer.
type Simulator struct {
	store wallet.Store
}

// NewSimulator creates a store-backed simulated source.
func NewSimulator(store wallet.Store) *Simulator {
	return &Simulator{store: store}
}

func (s *Simulator) Name() string    { return "simulator" }
func (s *Simulator) Simulated() bool { return true }

func (s *Simulator) Balance(_ context.Context, w *wallet.Wallet) (decimal.Decimal, error) {
	return w.Balance, nil
}

func (s *Simulator) Transactions(ctx context.Context, w *wallet.Wallet, limit int) ([]wallet.Transaction, error) {
	return s.store.ListTransactions(ctx, w.ID, limit)
}

var _ Source = (*Simulator)(nil)
