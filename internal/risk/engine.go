package risk

import (
	"time"

	"github.com/mbd888/cryptoguard/internal/alerts"
	"github.com/mbd888/cryptoguard/internal/idgen"
	"github.com/mbd888/cryptoguard/internal/wallet"
)

// Engine evaluates a rule set against a wallet, its transaction window and
// its per-cycle metrics. It holds no per-wallet state and is safe for
// concurrent use once configured.
type Engine struct {
	rules            []Rule
	thresholds       Thresholds
	failureThreshold int
	now              func() time.Time
}

// NewEngine creates an engine with the default rules and thresholds.
func NewEngine() *Engine {
	return &Engine{
		rules:            DefaultRules(),
		thresholds:       DefaultThresholds(),
		failureThreshold: DefaultFailureThreshold,
		now:              time.Now,
	}
}

// WithThresholds overrides the large-transfer thresholds.
func (e *Engine) WithThresholds(t Thresholds) *Engine {
	e.thresholds = t
	return e
}

// WithFailureThreshold overrides the repeated-failure threshold.
func (e *Engine) WithFailureThreshold(n int) *Engine {
	if n > 0 {
		e.failureThreshold = n
	}
	return e
}

// WithClock sets the time source used to stamp alerts.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// WithRules replaces the rule set. Order is preserved.
func (e *Engine) WithRules(rules ...Rule) *Engine {
	e.rules = rules
	return e
}

// Rules returns the configured rule names in evaluation order.
func (e *Engine) Rules() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.Name()
	}
	return names
}

// Evaluate runs every rule and returns the alerts in evaluation order:
// for each transaction (window order) each transaction rule in turn, then
// the wallet rules. It never fails; an empty window still runs wallet rules.
func (e *Engine) Evaluate(w wallet.Wallet, txs []wallet.Transaction, m wallet.Metrics) []alerts.Alert {
	ec := &EvalContext{
		Wallet:           w,
		Window:           txs,
		Metrics:          m,
		Thresholds:       e.thresholds,
		FailureThreshold: e.failureThreshold,
	}
	createdAt := e.now()

	result := []alerts.Alert{}
	for i := range txs {
		ec.Tx = &txs[i]
		for _, r := range e.rules {
			if r.Scope() != ScopeTransaction {
				continue
			}
			if f := r.Check(ec); f != nil {
				result = append(result, e.toAlert(w.ID, f, createdAt))
			}
		}
	}
	ec.Tx = nil

	for _, r := range e.rules {
		if r.Scope() != ScopeWallet {
			continue
		}
		if f := r.Check(ec); f != nil {
			result = append(result, e.toAlert(w.ID, f, createdAt))
		}
	}
	return result
}

func (e *Engine) toAlert(walletID string, f *Finding, createdAt time.Time) alerts.Alert {
	a := alerts.Alert{
		ID:        idgen.WithPrefix(idgen.PrefixAlert),
		WalletID:  walletID,
		Type:      f.Type,
		Severity:  f.Severity,
		Detail:    f.Detail,
		CreatedAt: createdAt,
		Source:    alerts.SourceGenerated,
	}
	if f.Tx != nil {
		tx := *f.Tx
		a.Tx = &tx
		a.TxID = tx.ID
	}
	return a
}
