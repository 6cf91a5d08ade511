package alerts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/cryptoguard/internal/pagination"
)

// MemoryStore is an in-memory Store for demo/development use.
type MemoryStore struct {
	mu       sync.RWMutex
	byWallet map[string][]Alert // walletID → alerts, insertion order
}

// NewMemoryStore creates an in-memory alert store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byWallet: make(map[string][]Alert)}
}

func (m *MemoryStore) Create(_ context.Context, a *Alert) error {
	stored := cloneAlert(a)
	stored.Source = SourcePersisted

	m.mu.Lock()
	defer m.mu.Unlock()
	m.byWallet[a.WalletID] = append(m.byWallet[a.WalletID], stored)
	return nil
}

func (m *MemoryStore) ListByWallets(_ context.Context, walletIDs []string, limit int, cursor string) ([]Alert, string, error) {
	c, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", err
	}

	m.mu.RLock()
	var all []Alert
	for _, id := range walletIDs {
		for i := range m.byWallet[id] {
			a := &m.byWallet[id][i]
			if c.After(a.CreatedAt, a.ID) {
				all = append(all, cloneAlert(a))
			}
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if limit <= 0 {
		return all, "", nil
	}
	page, next, _ := pagination.ComputePage(all, limit, func(a Alert) (t time.Time, id string) {
		return a.CreatedAt, a.ID
	})
	if page == nil {
		page = []Alert{}
	}
	return page, next, nil
}

func (m *MemoryStore) DeleteByWallet(_ context.Context, walletID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byWallet, walletID)
	return nil
}

func (m *MemoryStore) CountByWallets(_ context.Context, walletIDs []string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, id := range walletIDs {
		n += len(m.byWallet[id])
	}
	return n, nil
}

var _ Store = (*MemoryStore)(nil)
