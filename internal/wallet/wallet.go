// Package wallet holds the monitored wallets, their transaction histories,
// and the stores that persist them.
//
// A wallet is owned by exactly one user. Balance, USD value and health
// score are recomputed on every sync and never accumulated; transactions are
// append-only and always consumed newest first.
package wallet

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Errors
var (
	ErrNotFound           = errors.New("wallet: not found")
	ErrUnsupportedNetwork = errors.New("wallet: unsupported network")
	ErrInvalidAddress     = errors.New("wallet: invalid address")
	ErrInvalidBalance     = errors.New("wallet: balance must be non-negative")
)

// Network identifies the blockchain a wallet lives on.
type Network string

const (
	NetworkBTC Network = "BTC"
	NetworkETH Network = "ETH"
	NetworkSOL Network = "SOL"
)

// Networks is an ordered set of networks wallets may be connected on.
type Networks []Network

// AllNetworks lists every network the service knows how to monitor.
var AllNetworks = Networks{NetworkBTC, NetworkETH, NetworkSOL}

// NewNetworks builds the enabled set from configured names, keeping their
// order and dropping repeats. Names outside AllNetworks are rejected.
func NewNetworks(names []string) (Networks, error) {
	out := make(Networks, 0, len(names))
	for _, name := range names {
		n, err := AllNetworks.Parse(name)
		if err != nil {
			return nil, err
		}
		if !out.Contains(n) {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no networks enabled", ErrUnsupportedNetwork)
	}
	return out, nil
}

// Parse normalizes s and checks it against the set.
func (ns Networks) Parse(s string) (Network, error) {
	n := Network(strings.ToUpper(strings.TrimSpace(s)))
	if ns.Contains(n) {
		return n, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedNetwork, s)
}

// Contains reports whether n is in the set.
func (ns Networks) Contains(n Network) bool {
	for _, m := range ns {
		if m == n {
			return true
		}
	}
	return false
}

// ParseNetwork parses s against AllNetworks.
func ParseNetwork(s string) (Network, error) {
	return AllNetworks.Parse(s)
}

// Currency returns the native currency symbol for the network.
func (n Network) Currency() string { return string(n) }

// Direction of a transfer relative to the owning wallet.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Status of a transaction on chain.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
)

// RiskTag is the risk classification assigned by the chain data source or a
// prior evaluation.
type RiskTag string

const (
	RiskLow    RiskTag = "low"
	RiskMedium RiskTag = "medium"
	RiskHigh   RiskTag = "high"
)

// Wallet is a user's monitored blockchain address.
type Wallet struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	Label       string          `json:"label"`
	Network     Network         `json:"blockchain"`
	Address     string          `json:"address"`
	Currency    string          `json:"currency"`
	Balance     decimal.Decimal `json:"balance"`
	USDValue    decimal.Decimal `json:"usdValue"`
	HealthScore int             `json:"healthScore"`
	Tags        []string        `json:"tags"`
	LastSync    time.Time       `json:"lastSync"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Transaction is a single transfer in a wallet's history.
type Transaction struct {
	ID           string          `json:"id"`
	WalletID     string          `json:"walletId"`
	Network      Network         `json:"blockchain"`
	Hash         string          `json:"hash"`
	Direction    Direction       `json:"direction"`
	Counterparty string          `json:"counterparty"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Timestamp    time.Time       `json:"timestamp"`
	Status       Status          `json:"status"`
	Risk         RiskTag         `json:"risk"`
}

// Metrics carries behavioural counters for one evaluation cycle that are not
// derived from transactions.
type Metrics struct {
	FailedAttempts int `json:"failedAttempts"`
}

// SortNewestFirst orders txs by timestamp descending, breaking ties by ID so
// the order is stable across calls.
func SortNewestFirst(txs []Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].Timestamp.Equal(txs[j].Timestamp) {
			return txs[i].ID > txs[j].ID
		}
		return txs[i].Timestamp.After(txs[j].Timestamp)
	})
}

// Window returns at most limit transactions, newest first; limit <= 0 means
// no cap. The input is not modified.
func Window(txs []Transaction, limit int) []Transaction {
	out := make([]Transaction, len(txs))
	copy(out, txs)
	SortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func cloneWallet(w *Wallet) *Wallet {
	cp := *w
	if w.Tags != nil {
		cp.Tags = append([]string(nil), w.Tags...)
	}
	return &cp
}
