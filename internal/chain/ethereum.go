package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/mbd888/cryptoguard/internal/wallet"
)

// weiExp converts wei to ether.
const weiExp = -18

// BalanceReader is the subset of ethclient.Client used for balances.
type BalanceReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// EthereumSource reads native ETH balances over JSON-RPC. Address history
// is not available from a plain node, so transactions come from history.
type EthereumSource struct {
	client  BalanceReader
	history Source
	closer  func()
}

// DialEthereum connects to an Ethereum JSON-RPC endpoint.
func DialEthereum(ctx context.Context, rpcURL string, history Source) (*EthereumSource, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	return &EthereumSource{client: client, history: history, closer: client.Close}, nil
}

// NewEthereumSource wraps an existing balance reader.
func NewEthereumSource(client BalanceReader, history Source) *EthereumSource {
	return &EthereumSource{client: client, history: history}
}

func (e *EthereumSource) Name() string    { return "ethereum" }
func (e *EthereumSource) Simulated() bool { return false }

func (e *EthereumSource) Balance(ctx context.Context, w *wallet.Wallet) (decimal.Decimal, error) {
	if w.Network != wallet.NetworkETH {
		return decimal.Zero, fmt.Errorf("%w: ethereum source cannot serve %s", ErrUnavailable, w.Network)
	}
	if !common.IsHexAddress(w.Address) {
		return decimal.Zero, wallet.ErrInvalidAddress
	}
	wei, err := e.client.BalanceAt(ctx, common.HexToAddress(w.Address), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance of %s: %w", w.Address, err)
	}
	return decimal.NewFromBigInt(wei, weiExp), nil
}

func (e *EthereumSource) Transactions(ctx context.Context, w *wallet.Wallet, limit int) ([]wallet.Transaction, error) {
	if e.history == nil {
		return []wallet.Transaction{}, nil
	}
	return e.history.Transactions(ctx, w, limit)
}

// Close releases the RPC connection when the source dialed it.
func (e *EthereumSource) Close() {
	if e.closer != nil {
		e.closer()
	}
}

var _ Source = (*EthereumSource)(nil)
