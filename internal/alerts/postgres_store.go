package alerts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/mbd888/cryptoguard/internal/pagination"
	"github.com/mbd888/cryptoguard/internal/wallet"
)

// PostgresStore persists alerts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed alert store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the alerts table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS alerts (
			id          VARCHAR(64) PRIMARY KEY,
			wallet_id   VARCHAR(64) NOT NULL,
			type        VARCHAR(64) NOT NULL,
			severity    VARCHAR(10) NOT NULL,
			detail      TEXT NOT NULL DEFAULT '',
			tx_id       VARCHAR(64),
			tx          JSONB,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_alerts_wallet_created
			ON alerts (wallet_id, created_at DESC, id DESC);
	`)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, a *Alert) error {
	var txJSON []byte
	if a.Tx != nil {
		var err error
		if txJSON, err = json.Marshal(a.Tx); err != nil {
			return fmt.Errorf("failed to encode alert tx: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, wallet_id, type, severity, detail, tx_id, tx, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, a.ID, a.WalletID, string(a.Type), string(a.Severity), a.Detail,
		nullString(a.TxID), nullBytes(txJSON), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByWallets(ctx context.Context, walletIDs []string, limit int, cursor string) ([]Alert, string, error) {
	if len(walletIDs) == 0 {
		return []Alert{}, "", nil
	}
	c, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", err
	}

	query := `
		SELECT id, wallet_id, type, severity, detail, tx_id, tx, created_at
		FROM alerts
		WHERE wallet_id = ANY($1)`
	args := []interface{}{pq.Array(walletIDs)}
	if c != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, c.CreatedAt, c.ID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit+1)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := []Alert{}
	for rows.Next() {
		var a Alert
		var typ, severity string
		var txID sql.NullString
		var txJSON []byte
		if err := rows.Scan(&a.ID, &a.WalletID, &typ, &severity, &a.Detail, &txID, &txJSON, &a.CreatedAt); err != nil {
			return nil, "", err
		}
		a.Type = Type(typ)
		a.Severity = Severity(severity)
		a.TxID = txID.String
		a.Source = SourcePersisted
		if len(txJSON) > 0 {
			var tx wallet.Transaction
			if err := json.Unmarshal(txJSON, &tx); err == nil {
				a.Tx = &tx
			}
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	if limit <= 0 {
		return result, "", nil
	}
	page, next, _ := pagination.ComputePage(result, limit, func(a Alert) (time.Time, string) {
		return a.CreatedAt, a.ID
	})
	return page, next, nil
}

func (s *PostgresStore) DeleteByWallet(ctx context.Context, walletID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE wallet_id = $1`, walletID)
	if err != nil {
		return fmt.Errorf("failed to delete alerts: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountByWallets(ctx context.Context, walletIDs []string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE wallet_id = ANY($1)`, pq.Array(walletIDs)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

var _ Store = (*PostgresStore)(nil)
