package wallet

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/cryptoguard/internal/syncutil"
	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory Store for demo/development use.
type MemoryStore struct {
	mu      sync.RWMutex
	wallets map[string]*Wallet
	txs     map[string][]Transaction // walletID → history, append order
	txIDs   map[string]struct{}

	// writers holds the per-wallet writer lock; mu is only held for the
	// map operation itself.
	writers *syncutil.KeyLock
}

// NewMemoryStore creates an in-memory wallet store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[string]*Wallet),
		txs:     make(map[string][]Transaction),
		txIDs:   make(map[string]struct{}),
		writers: syncutil.NewKeyLock(0),
	}
}

func (m *MemoryStore) Create(_ context.Context, w *Wallet) error {
	if w.Balance.IsNegative() {
		return ErrInvalidBalance
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[w.ID] = cloneWallet(w)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.wallets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneWallet(w), nil
}

func (m *MemoryStore) ListByUser(_ context.Context, userID string) ([]*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Wallet
	for _, w := range m.wallets {
		if w.UserID == userID {
			result = append(result, cloneWallet(w))
		}
	}
	sortWallets(result)
	return result, nil
}

func (m *MemoryStore) ListAll(_ context.Context) ([]*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Wallet, 0, len(m.wallets))
	for _, w := range m.wallets {
		result = append(result, cloneWallet(w))
	}
	sortWallets(result)
	return result, nil
}

func (m *MemoryStore) CountByUser(_ context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, w := range m.wallets {
		if w.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) UpdateState(_ context.Context, id string, balance, usdValue decimal.Decimal, healthScore int, syncedAt time.Time) error {
	if balance.IsNegative() {
		return ErrInvalidBalance
	}
	unlock := m.writers.Lock(id)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[id]
	if !ok {
		return ErrNotFound
	}
	w.Balance = balance
	w.USDValue = usdValue
	w.HealthScore = healthScore
	w.LastSync = syncedAt
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id, userID string) error {
	unlock := m.writers.Lock(id)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[id]
	if !ok || w.UserID != userID {
		return ErrNotFound
	}
	for _, tx := range m.txs[id] {
		delete(m.txIDs, tx.ID)
	}
	delete(m.txs, id)
	delete(m.wallets, id)
	return nil
}

func (m *MemoryStore) AppendTransactions(_ context.Context, walletID string, txs ...Transaction) error {
	unlock := m.writers.Lock(walletID)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.wallets[walletID]; !ok {
		return ErrNotFound
	}
	for _, tx := range txs {
		if _, dup := m.txIDs[tx.ID]; dup {
			continue
		}
		tx.WalletID = walletID
		m.txIDs[tx.ID] = struct{}{}
		m.txs[walletID] = append(m.txs[walletID], tx)
	}
	return nil
}

func (m *MemoryStore) ListTransactions(_ context.Context, walletID string, limit int) ([]Transaction, error) {
	m.mu.RLock()
	history := m.txs[walletID]
	snapshot := make([]Transaction, len(history))
	copy(snapshot, history)
	m.mu.RUnlock()

	return Window(snapshot, limit), nil
}

func (m *MemoryStore) ListRecentForWallets(_ context.Context, walletIDs []string, limit int) ([]Transaction, error) {
	m.mu.RLock()
	var all []Transaction
	for _, id := range walletIDs {
		all = append(all, m.txs[id]...)
	}
	m.mu.RUnlock()

	return Window(all, limit), nil
}

func (m *MemoryStore) CountHighRisk(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, history := range m.txs {
		for _, tx := range history {
			if tx.Risk == RiskHigh {
				count++
			}
		}
	}
	return count, nil
}

func sortWallets(ws []*Wallet) {
	sort.Slice(ws, func(i, j int) bool {
		if ws[i].CreatedAt.Equal(ws[j].CreatedAt) {
			return ws[i].ID < ws[j].ID
		}
		return ws[i].CreatedAt.Before(ws[j].CreatedAt)
	})
}

var _ Store = (*MemoryStore)(nil)
