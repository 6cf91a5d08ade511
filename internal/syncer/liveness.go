package syncer

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/cryptoguard/internal/idgen"
	"github.com/mbd888/cryptoguard/internal/wallet"
)

// Health scores always fall in [MinHealthScore, MaxHealthScore].
const (
	MinHealthScore = 70
	MaxHealthScore = 100
)

// Liveness models activity on top of a simulated chain source: balance
// drift, health scores and synthetic transactions.
type Liveness interface {
	// Drift returns a non-negative perturbation added to the stored balance.
	Drift() decimal.Decimal
	// HealthScore returns an integer in [MinHealthScore, MaxHealthScore].
	HealthScore() int
	// Enrich reports whether this fetch should synthesize a transaction.
	Enrich() bool
	// Synthesize builds a new pending, low-risk transaction for w.
	Synthesize(w *wallet.Wallet, now time.Time) wallet.Transaction
	// OpeningBalance is the balance assigned to a freshly connected wallet.
	OpeningBalance() decimal.Decimal
}

// RandomConfig tunes RandomLiveness.
type RandomConfig struct {
	MaxDrift          decimal.Decimal // drift is in [0, MaxDrift)
	EnrichProbability float64
	MaxSyntheticValue decimal.Decimal // synthetic amounts are in [0, MaxSyntheticValue)
	MaxOpeningBalance decimal.Decimal
}

// DefaultRandomConfig mirrors the live demo feed.
func DefaultRandomConfig() RandomConfig {
	return RandomConfig{
		MaxDrift:          decimal.RequireFromString("0.05"),
		EnrichProbability: 0.3,
		MaxSyntheticValue: decimal.RequireFromString("1.5"),
		MaxOpeningBalance: decimal.NewFromInt(5),
	}
}

// RandomLiveness draws from a seeded PCG source. Safe for concurrent use.
type RandomLiveness struct {
	cfg RandomConfig
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomLiveness creates a liveness source seeded with seed.
func NewRandomLiveness(cfg RandomConfig, seed uint64) *RandomLiveness {
	return &RandomLiveness{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (r *RandomLiveness) float() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

// scaled returns a value in [0, max) rounded down to 4 dp.
func (r *RandomLiveness) scaled(max decimal.Decimal) decimal.Decimal {
	return decimal.NewFromFloat(r.float()).Mul(max).RoundDown(4)
}

func (r *RandomLiveness) Drift() decimal.Decimal { return r.scaled(r.cfg.MaxDrift) }

func (r *RandomLiveness) HealthScore() int {
	span := MaxHealthScore - MinHealthScore
	return MinHealthScore + int(r.float()*float64(span)+0.5)
}

func (r *RandomLiveness) Enrich() bool { return r.float() < r.cfg.EnrichProbability }

func (r *RandomLiveness) OpeningBalance() decimal.Decimal {
	return r.scaled(r.cfg.MaxOpeningBalance)
}

const counterpartyAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func (r *RandomLiveness) Synthesize(w *wallet.Wallet, now time.Time) wallet.Transaction {
	direction := wallet.DirectionIncoming
	if r.float() < 0.5 {
		direction = wallet.DirectionOutgoing
	}

	cp := make([]byte, 10)
	r.mu.Lock()
	for i := range cp {
		cp[i] = counterpartyAlphabet[r.rng.IntN(len(counterpartyAlphabet))]
	}
	r.mu.Unlock()

	return wallet.Transaction{
		ID:           idgen.WithPrefix(idgen.PrefixTx),
		WalletID:     w.ID,
		Network:      w.Network,
		Hash:         idgen.Hex(8),
		Direction:    direction,
		Counterparty: string(cp),
		Amount:       r.scaled(r.cfg.MaxSyntheticValue),
		Currency:     w.Network.Currency(),
		Timestamp:    now,
		Status:       wallet.StatusPending,
		Risk:         wallet.RiskLow,
	}
}

// FixedLiveness returns the same values on every call.
type FixedLiveness struct {
	DriftValue   decimal.Decimal
	Health       int
	EnrichAlways bool
	Opening      decimal.Decimal
	Counterparty string
	Amount       decimal.Decimal
	Direction    wallet.Direction
}

// DefaultFixedLiveness has no drift, a perfect health score and no
// synthetic activity.
func DefaultFixedLiveness() FixedLiveness {
	return FixedLiveness{Health: MaxHealthScore}
}

func (f FixedLiveness) Drift() decimal.Decimal          { return f.DriftValue }
func (f FixedLiveness) Enrich() bool                    { return f.EnrichAlways }
func (f FixedLiveness) OpeningBalance() decimal.Decimal { return f.Opening }

func (f FixedLiveness) HealthScore() int {
	return min(max(f.Health, MinHealthScore), MaxHealthScore)
}

func (f FixedLiveness) Synthesize(w *wallet.Wallet, now time.Time) wallet.Transaction {
	direction := f.Direction
	if direction == "" {
		direction = wallet.DirectionIncoming
	}
	return wallet.Transaction{
		ID:           idgen.WithPrefix(idgen.PrefixTx),
		WalletID:     w.ID,
		Network:      w.Network,
		Hash:         idgen.Hex(8),
		Direction:    direction,
		Counterparty: f.Counterparty,
		Amount:       f.Amount,
		Currency:     w.Network.Currency(),
		Timestamp:    now,
		Status:       wallet.StatusPending,
		Risk:         wallet.RiskLow,
	}
}

var (
	_ Liveness = (*RandomLiveness)(nil)
	_ Liveness = FixedLiveness{}
)
