// Package chain defines the boundary to blockchain data: balances and
// bounded, time-descending transaction windows per wallet.
package chain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/mbd888/cryptoguard/internal/wallet"
)

// ErrUnavailable is returned when a source cannot serve a request at all
// (for example no RPC endpoint is configured for the wallet's network).
var ErrUnavailable = errors.New("chain: source unavailable")

// Source supplies chain state for a wallet. Implementations are fallible and
// may be slow; callers wrap them with retries and a circuit breaker.
type Source interface {
	Name() string

	// Simulated reports whether the source models liveness from stored state
	// rather than reading a real chain. Only simulated sources get drift and
	// synthetic transactions applied on top.
	Simulated() bool

	Balance(ctx context.Context, w *wallet.Wallet) (decimal.Decimal, error)

	// Transactions returns at most limit transactions, newest first.
	Transactions(ctx context.Context, w *wallet.Wallet, limit int) ([]wallet.Transaction, error)
}

// Resolver picks the Source serving a network.
type Resolver interface {
	For(n wallet.Network) Source
}

// Router maps networks to sources, falling back to a default.
type Router struct {
	fallback Source
	routes   map[wallet.Network]Source
}

// NewRouter creates a router that serves every network from fallback until
// Route overrides it.
func NewRouter(fallback Source) *Router {
	return &Router{fallback: fallback, routes: make(map[wallet.Network]Source)}
}

// Route serves network n from src. Not safe to call once the router is in use.
func (r *Router) Route(n wallet.Network, src Source) *Router {
	r.routes[n] = src
	return r
}

// For implements Resolver.
func (r *Router) For(n wallet.Network) Source {
	if src, ok := r.routes[n]; ok {
		return src
	}
	return r.fallback
}

var _ Resolver = (*Router)(nil)
