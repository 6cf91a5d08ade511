package chain

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/mbd888/cryptoguard/internal/wallet"
)

// Fixture is a deterministic in-memory source keyed by wallet ID. It is not
// simulated: values come back exactly as set.
type Fixture struct {
	mu       sync.RWMutex
	balances map[string]decimal.Decimal
	txs      map[string][]wallet.Transaction
	errs     map[string]error
	calls    int
}

// NewFixture creates an empty fixture source.
func NewFixture() *Fixture {
	return &Fixture{
		balances: make(map[string]decimal.Decimal),
		txs:      make(map[string][]wallet.Transaction),
		errs:     make(map[string]error),
	}
}

// SetBalance fixes the balance reported for walletID.
func (f *Fixture) SetBalance(walletID string, balance decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[walletID] = balance
}

// SetTransactions replaces the history reported for walletID.
func (f *Fixture) SetTransactions(walletID string, txs ...wallet.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs[walletID] = append([]wallet.Transaction(nil), txs...)
}

// FailWith makes every call for walletID return err. A nil err clears it.
func (f *Fixture) FailWith(walletID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, walletID)
		return
	}
	f.errs[walletID] = err
}

// Calls returns how many Balance and Transactions calls the fixture served.
func (f *Fixture) Calls() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.calls
}

func (f *Fixture) Name() string    { return "fixture" }
func (f *Fixture) Simulated() bool { return false }

func (f *Fixture) Balance(_ context.Context, w *wallet.Wallet) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[w.ID]; err != nil {
		return decimal.Zero, err
	}
	if b, ok := f.balances[w.ID]; ok {
		return b, nil
	}
	return w.Balance, nil
}

func (f *Fixture) Transactions(_ context.Context, w *wallet.Wallet, limit int) ([]wallet.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[w.ID]; err != nil {
		return nil, err
	}
	return wallet.Window(f.txs[w.ID], limit), nil
}

var _ Source = (*Fixture)(nil)
