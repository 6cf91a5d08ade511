package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/cryptoguard/internal/account"
	"github.com/mbd888/cryptoguard/internal/alerts"
	"github.com/mbd888/cryptoguard/internal/idgen"
	"github.com/mbd888/cryptoguard/internal/wallet"
)

// Demo account identifiers
const (
	DemoUserID  = "usr_demo"
	DemoEmail   = "demo@cryptoguard.dev"
	DemoETHID   = "wal_demoeth"
	DemoBTCID   = "wal_demobtc"
	demoKeyName = "demo"
)

// seedDemo creates the demo user with two wallets, a short history and two
// stored alerts, then logs a fresh API key for it. Wallets on disabled
// networks are skipped. An existing demo user is left alone apart from the
// new key.
func (s *Server) seedDemo(ctx context.Context) error {
	now := time.Now().UTC()

	_, err := s.users.GetByEmail(ctx, DemoEmail)
	switch {
	case err == nil:
		s.logger.Info("demo user already present", "user_id", DemoUserID)
	case errors.Is(err, account.ErrUserNotFound):
		if err := s.createDemoData(ctx, now); err != nil {
			return err
		}
	default:
		return fmt.Errorf("look up demo user: %w", err)
	}

	rawKey, _, err := s.authMgr.GenerateKey(ctx, DemoUserID, demoKeyName)
	if err != nil {
		return fmt.Errorf("issue demo key: %w", err)
	}
	s.logger.Info("demo data ready",
		"user_id", DemoUserID,
		"email", DemoEmail,
		"api_key", rawKey,
	)
	return nil
}

func (s *Server) createDemoData(ctx context.Context, now time.Time) error {
	u := account.NewUser(DemoUserID, "Demo Security Lead", DemoEmail, account.PlanPro, now)
	if err := s.users.Create(ctx, u); err != nil {
		return fmt.Errorf("create demo user: %w", err)
	}

	eth := &wallet.Wallet{
		ID:        DemoETHID,
		UserID:    DemoUserID,
		Label:     "Operations ETH",
		Network:   wallet.NetworkETH,
		Address:   "0x8ba1f109551bD432803012645Ac136ddd64DBA72",
		Currency:  wallet.NetworkETH.Currency(),
		Balance:   decimal.RequireFromString("4.52"),
		Tags:      []string{"treasury", "ops"},
		LastSync:  now,
		CreatedAt: now,
	}
	btc := &wallet.Wallet{
		ID:        DemoBTCID,
		UserID:    DemoUserID,
		Label:     "BTC Cold Storage",
		Network:   wallet.NetworkBTC,
		Address:   "bc1qw508d6qejxtdg4y5r3zarvaryv98gj9p9s3ju6",
		Currency:  wallet.NetworkBTC.Currency(),
		Balance:   decimal.RequireFromString("1.8372"),
		Tags:      []string{"cold-storage"},
		LastSync:  now,
		CreatedAt: now.Add(time.Second),
	}
	created := make(map[string]bool, 2)
	for _, w := range []*wallet.Wallet{eth, btc} {
		if !s.networks.Contains(w.Network) {
			continue
		}
		if err := s.wallets.Create(ctx, w); err != nil {
			return fmt.Errorf("create demo wallet %s: %w", w.ID, err)
		}
		created[w.ID] = true
	}

	ethTxs := []wallet.Transaction{
		demoTx(eth, "0x9c30dcb3c2a840f8", wallet.DirectionOutgoing,
			"0x92d8f10248c6a3953cc3692a894655ad05d61efb", "1.24", now.Add(-2*time.Hour), wallet.RiskLow),
		demoTx(eth, "0x71bd898722c383f6", wallet.DirectionIncoming,
			"0x9c9c332885d53bc3", "0.92", now.Add(-5*time.Hour), wallet.RiskMedium),
	}
	if created[eth.ID] {
		if err := s.wallets.AppendTransactions(ctx, eth.ID, ethTxs...); err != nil {
			return fmt.Errorf("seed eth transactions: %w", err)
		}
	}
	btcTx := demoTx(btc, "19h6881bc9221", wallet.DirectionOutgoing,
		"bc1qxy2kgdygjrsqtzq2n0yrf2493p83kkfjhx0wlh", "0.52", now.Add(-24*time.Hour), wallet.RiskHigh)
	if created[btc.ID] {
		if err := s.wallets.AppendTransactions(ctx, btc.ID, btcTx); err != nil {
			return fmt.Errorf("seed btc transactions: %w", err)
		}
	}

	stored := []*alerts.Alert{
		{
			ID:        idgen.WithPrefix(idgen.PrefixAlert),
			WalletID:  btc.ID,
			Type:      alerts.TypeLargeTransfer,
			Severity:  alerts.SeverityHigh,
			Detail:    "Outgoing transfer exceeded threshold for BTC cold storage.",
			CreatedAt: now.Add(-20 * time.Minute),
			Source:    alerts.SourcePersisted,
		},
		{
			ID:        idgen.WithPrefix(idgen.PrefixAlert),
			WalletID:  eth.ID,
			Type:      alerts.TypeUnknownCounterparty,
			Severity:  alerts.SeverityMedium,
			Detail:    "Interaction with previously unseen ETH address.",
			CreatedAt: now.Add(-90 * time.Minute),
			Source:    alerts.SourcePersisted,
		},
	}
	for _, a := range stored {
		if !created[a.WalletID] {
			continue
		}
		if err := s.alerts.Create(ctx, a); err != nil {
			return fmt.Errorf("seed alert: %w", err)
		}
	}
	return nil
}

func demoTx(w *wallet.Wallet, hash string, dir wallet.Direction, counterparty, amount string, at time.Time, risk wallet.RiskTag) wallet.Transaction {
	return wallet.Transaction{
		ID:           idgen.WithPrefix(idgen.PrefixTx),
		WalletID:     w.ID,
		Network:      w.Network,
		Hash:         hash,
		Direction:    dir,
		Counterparty: counterparty,
		Amount:       decimal.RequireFromString(amount),
		Currency:     w.Currency,
		Timestamp:    at,
		Status:       wallet.StatusConfirmed,
		Risk:         risk,
	}
}
