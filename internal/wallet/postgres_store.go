package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// PostgresStore persists wallets and transactions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed wallet store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the wallets and wallet_transactions tables if they don't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS wallets (
			id            VARCHAR(64) PRIMARY KEY,
			user_id       VARCHAR(64) NOT NULL,
			label         TEXT NOT NULL,
			network       VARCHAR(8) NOT NULL CHECK (network IN ('BTC', 'ETH', 'SOL')),
			address       TEXT NOT NULL,
			currency      VARCHAR(8) NOT NULL,
			balance       NUMERIC(38,18) NOT NULL DEFAULT 0 CHECK (balance >= 0),
			usd_value     NUMERIC(38,2) NOT NULL DEFAULT 0,
			health_score  INTEGER NOT NULL DEFAULT 0,
			tags          TEXT[] NOT NULL DEFAULT '{}',
			last_sync     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_wallets_user_id ON wallets (user_id, created_at);

		CREATE TABLE IF NOT EXISTS wallet_transactions (
			id            VARCHAR(64) PRIMARY KEY,
			wallet_id     VARCHAR(64) NOT NULL REFERENCES wallets(id) ON DELETE CASCADE,
			network       VARCHAR(8) NOT NULL,
			hash          TEXT NOT NULL,
			direction     VARCHAR(8) NOT NULL CHECK (direction IN ('incoming', 'outgoing')),
			counterparty  TEXT NOT NULL,
			amount        NUMERIC(38,18) NOT NULL CHECK (amount >= 0),
			currency      VARCHAR(8) NOT NULL,
			ts            TIMESTAMPTZ NOT NULL,
			status        VARCHAR(10) NOT NULL CHECK (status IN ('pending', 'confirmed')),
			risk          VARCHAR(6) NOT NULL CHECK (risk IN ('low', 'medium', 'high'))
		);

		CREATE INDEX IF NOT EXISTS idx_wallet_transactions_wallet_ts
			ON wallet_transactions (wallet_id, ts DESC);

		CREATE INDEX IF NOT EXISTS idx_wallet_transactions_high_risk
			ON wallet_transactions (ts DESC) WHERE risk = 'high';
	`)
	return err
}

const walletColumns = `id, user_id, label, network, address, currency, balance, usd_value, health_score, tags, last_sync, created_at`

func (s *PostgresStore) Create(ctx context.Context, w *Wallet) error {
	if w.Balance.IsNegative() {
		return ErrInvalidBalance
	}
	tags := w.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallets (`+walletColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		w.ID, w.UserID, w.Label, string(w.Network), w.Address, w.Currency,
		w.Balance, w.USDValue, w.HealthScore, pq.Array(tags), w.LastSync, w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Wallet, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id)
	w, err := scanWallet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return w, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]*Wallet, error) {
	return s.queryWallets(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 ORDER BY created_at, id`, userID)
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]*Wallet, error) {
	return s.queryWallets(ctx, `SELECT `+walletColumns+` FROM wallets ORDER BY created_at, id`)
}

func (s *PostgresStore) CountByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM wallets WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count wallets: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) UpdateState(ctx context.Context, id string, balance, usdValue decimal.Decimal, healthScore int, syncedAt time.Time) error {
	if balance.IsNegative() {
		return ErrInvalidBalance
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE wallets SET balance = $2, usd_value = $3, health_score = $4, last_sync = $5
		WHERE id = $1
	`, id, balance, usdValue, healthScore, syncedAt)
	if err != nil {
		return fmt.Errorf("failed to update wallet state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM wallets WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete wallet: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendTransactions(ctx context.Context, walletID string, txs ...Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Row lock serializes writers on the same wallet.
	var exists string
	err = tx.QueryRowContext(ctx, `SELECT id FROM wallets WHERE id = $1 FOR UPDATE`, walletID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock wallet: %w", err)
	}

	for _, t := range txs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO wallet_transactions
				(id, wallet_id, network, hash, direction, counterparty, amount, currency, ts, status, risk)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO NOTHING
		`,
			t.ID, walletID, string(t.Network), t.Hash, string(t.Direction), t.Counterparty,
			t.Amount, t.Currency, t.Timestamp, string(t.Status), string(t.Risk),
		)
		if err != nil {
			return fmt.Errorf("failed to append transaction: %w", err)
		}
	}
	return tx.Commit()
}

const txColumns = `id, wallet_id, network, hash, direction, counterparty, amount, currency, ts, status, risk`

func (s *PostgresStore) ListTransactions(ctx context.Context, walletID string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		return s.queryTransactions(ctx, `
			SELECT `+txColumns+` FROM wallet_transactions
			WHERE wallet_id = $1 ORDER BY ts DESC, id DESC
		`, walletID)
	}
	return s.queryTransactions(ctx, `
		SELECT `+txColumns+` FROM wallet_transactions
		WHERE wallet_id = $1 ORDER BY ts DESC, id DESC LIMIT $2
	`, walletID, limit)
}

func (s *PostgresStore) ListRecentForWallets(ctx context.Context, walletIDs []string, limit int) ([]Transaction, error) {
	if len(walletIDs) == 0 {
		return []Transaction{}, nil
	}
	return s.queryTransactions(ctx, `
		SELECT `+txColumns+` FROM wallet_transactions
		WHERE wallet_id = ANY($1) ORDER BY ts DESC, id DESC LIMIT $2
	`, pq.Array(walletIDs), limit)
}

func (s *PostgresStore) CountHighRisk(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM wallet_transactions WHERE risk = 'high'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count high risk transactions: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) queryWallets(ctx context.Context, query string, args ...interface{}) ([]*Wallet, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

func (s *PostgresStore) queryTransactions(ctx context.Context, query string, args ...interface{}) ([]Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := []Transaction{}
	for rows.Next() {
		var t Transaction
		var network, direction, status, risk string
		if err := rows.Scan(&t.ID, &t.WalletID, &network, &t.Hash, &direction, &t.Counterparty,
			&t.Amount, &t.Currency, &t.Timestamp, &status, &risk); err != nil {
			return nil, err
		}
		t.Network = Network(network)
		t.Direction = Direction(direction)
		t.Status = Status(status)
		t.Risk = RiskTag(risk)
		result = append(result, t)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanWallet(row scanner) (*Wallet, error) {
	var w Wallet
	var network string
	var tags []string
	if err := row.Scan(&w.ID, &w.UserID, &w.Label, &network, &w.Address, &w.Currency,
		&w.Balance, &w.USDValue, &w.HealthScore, pq.Array(&tags), &w.LastSync, &w.CreatedAt); err != nil {
		return nil, err
	}
	w.Network = Network(network)
	w.Tags = tags
	return &w, nil
}

var _ Store = (*PostgresStore)(nil)
