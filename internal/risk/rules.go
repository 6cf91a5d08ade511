package risk

import (
	"fmt"

	"github.com/mbd888/cryptoguard/internal/alerts"
	"github.com/mbd888/cryptoguard/internal/wallet"
)

// LargeTransferRule fires when a transfer meets or exceeds the threshold for
// its network. The transaction's network wins over the wallet's.
type LargeTransferRule struct{}

func (LargeTransferRule) Name() string { return "large_transfer" }
func (LargeTransferRule) Scope() Scope { return ScopeTransaction }

func (LargeTransferRule) Check(ec *EvalContext) *Finding {
	tx := ec.Tx
	network := tx.Network
	if network == "" {
		network = ec.Wallet.Network
	}
	threshold := ec.Thresholds.For(network)
	if tx.Amount.LessThan(threshold) {
		return nil
	}
	currency := currencyOf(tx, network)
	return &Finding{
		Type:     alerts.TypeLargeTransfer,
		Severity: alerts.SeverityHigh,
		Detail:   fmt.Sprintf("Transfer of %s %s exceeded %s %s", tx.Amount.String(), currency, threshold.String(), currency),
		Tx:       tx,
	}
}

// UnknownCounterpartyRule fires for an outgoing transfer whose counterparty
// appears on no other transaction in the window.
type UnknownCounterpartyRule struct{}

func (UnknownCounterpartyRule) Name() string { return "unknown_counterparty" }
func (UnknownCounterpartyRule) Scope() Scope { return ScopeTransaction }

func (UnknownCounterpartyRule) Check(ec *EvalContext) *Finding {
	tx := ec.Tx
	if tx.Direction != wallet.DirectionOutgoing || ec.SharesCounterparty(tx) {
		return nil
	}
	return &Finding{
		Type:     alerts.TypeUnknownCounterparty,
		Severity: alerts.SeverityMedium,
		Detail:   "Outgoing transfer to a new address " + tx.Counterparty,
		Tx:       tx,
	}
}

// HighRiskProviderRule fires when the data source already tagged the
// transfer as high risk.
type HighRiskProviderRule struct{}

func (HighRiskProviderRule) Name() string { return "high_risk_provider" }
func (HighRiskProviderRule) Scope() Scope { return ScopeTransaction }

func (HighRiskProviderRule) Check(ec *EvalContext) *Finding {
	if ec.Tx.Risk != wallet.RiskHigh {
		return nil
	}
	return &Finding{
		Type:     alerts.TypeHighRiskProvider,
		Severity: alerts.SeverityHigh,
		Detail:   "Transaction flagged as high risk by heuristics.",
		Tx:       ec.Tx,
	}
}

// RepeatedFailuresRule fires once per wallet when failed access attempts
// reach the threshold, independent of the transaction window.
type RepeatedFailuresRule struct{}

func (RepeatedFailuresRule) Name() string { return "repeated_failures" }
func (RepeatedFailuresRule) Scope() Scope { return ScopeWallet }

func (RepeatedFailuresRule) Check(ec *EvalContext) *Finding {
	threshold := ec.FailureThreshold
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if ec.Metrics.FailedAttempts < threshold {
		return nil
	}
	return &Finding{
		Type:     alerts.TypeRepeatedFailures,
		Severity: alerts.SeverityHigh,
		Detail:   fmt.Sprintf("Detected %d failed access attempts", ec.Metrics.FailedAttempts),
	}
}

func currencyOf(tx *wallet.Transaction, n wallet.Network) string {
	if tx.Currency != "" {
		return tx.Currency
	}
	return n.Currency()
}
