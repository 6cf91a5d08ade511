// Package risk derives alerts from a wallet's state.
//
// Rules are evaluated in a fixed order: per-transaction rules once for each
// transaction in window order, then wallet-level rules once. Every rule that
// fires contributes its own alert; rules never suppress one another.
package risk

import (
	"github.com/shopspring/decimal"

	"github.com/mbd888/cryptoguard/internal/alerts"
	"github.com/mbd888/cryptoguard/internal/wallet"
)

// Default thresholds.
const (
	DefaultFailureThreshold = 3
)

// DefaultLargeTransferThreshold applies to networks with no entry in the
// threshold table.
var DefaultLargeTransferThreshold = decimal.NewFromInt(100)

// Thresholds holds the large-transfer limit per network.
type Thresholds struct {
	PerNetwork map[wallet.Network]decimal.Decimal
	Default    decimal.Decimal
}

// DefaultThresholds returns BTC 0.75, ETH 5, SOL 250 and 100 for anything else.
func DefaultThresholds() Thresholds {
	return Thresholds{
		PerNetwork: map[wallet.Network]decimal.Decimal{
			wallet.NetworkBTC: decimal.RequireFromString("0.75"),
			wallet.NetworkETH: decimal.NewFromInt(5),
			wallet.NetworkSOL: decimal.NewFromInt(250),
		},
		Default: DefaultLargeTransferThreshold,
	}
}

// For returns the threshold for n.
func (t Thresholds) For(n wallet.Network) decimal.Decimal {
	if v, ok := t.PerNetwork[n]; ok {
		return v
	}
	return t.Default
}

// Scope says whether a rule inspects one transaction or the whole wallet.
type Scope int

const (
	ScopeTransaction Scope = iota
	ScopeWallet
)

// Finding is what a rule reports when it fires. The engine turns it into an
// alert.
type Finding struct {
	Type     alerts.Type
	Severity alerts.Severity
	Detail   string
	Tx       *wallet.Transaction // nil for wallet-level findings
}

// EvalContext is the input handed to each rule. Tx is set only while
// transaction-scoped rules run.
type EvalContext struct {
	Wallet     wallet.Wallet
	Window     []wallet.Transaction
	Metrics    wallet.Metrics
	Tx         *wallet.Transaction
	Thresholds Thresholds

	FailureThreshold int

	counterparties map[string][]string // counterparty → tx IDs in window
}

// SharesCounterparty reports whether any other transaction in the window
// (by ID) has the same counterparty as tx.
func (ec *EvalContext) SharesCounterparty(tx *wallet.Transaction) bool {
	if ec.counterparties == nil {
		ec.counterparties = make(map[string][]string, len(ec.Window))
		for _, t := range ec.Window {
			ec.counterparties[t.Counterparty] = append(ec.counterparties[t.Counterparty], t.ID)
		}
	}
	for _, id := range ec.counterparties[tx.Counterparty] {
		if id != tx.ID {
			return true
		}
	}
	return false
}

// Rule is a single risk check.
type Rule interface {
	Name() string
	Scope() Scope
	Check(ec *EvalContext) *Finding
}

// DefaultRules returns the built-in rule set in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		LargeTransferRule{},
		UnknownCounterpartyRule{},
		HighRiskProviderRule{},
		RepeatedFailuresRule{},
	}
}
