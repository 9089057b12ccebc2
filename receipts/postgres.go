package receipts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"github.com/prompthash/paygate/types"
)

const createTableStmt = `
CREATE TABLE IF NOT EXISTS payment_receipts (
	id              BIGSERIAL PRIMARY KEY,
	request_id      TEXT NOT NULL,
	endpoint        TEXT NOT NULL,
	wallet_address  TEXT,
	status          TEXT NOT NULL,
	reason_code     TEXT NOT NULL,
	network         TEXT,
	asset           TEXT,
	amount_atomic   TEXT,
	tx_hash         TEXT,
	facilitator_url TEXT,
	metadata        JSONB NOT NULL DEFAULT '{}',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_payment_receipts_request_id ON payment_receipts (request_id);
CREATE INDEX IF NOT EXISTS idx_payment_receipts_wallet ON payment_receipts (wallet_address);
CREATE INDEX IF NOT EXISTS idx_payment_receipts_created_at ON payment_receipts (created_at DESC);
`

// PostgresStore persists receipts in Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the database and ensures the receipts table
// exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, createTableStmt); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create receipts table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Write(ctx context.Context, r *types.Receipt) error {
	metadata := r.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO payment_receipts
			(request_id, endpoint, wallet_address, status, reason_code,
			 network, asset, amount_atomic, tx_hash, facilitator_url, metadata)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, NULLIF($6, ''), NULLIF($7, ''),
			NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11)`,
		r.RequestID,
		r.Endpoint,
		strings.ToLower(r.WalletAddress),
		string(r.Status),
		string(r.ReasonCode),
		string(r.Network),
		strings.ToLower(r.Asset),
		r.AmountAtomic,
		r.TxHash,
		r.FacilitatorURL,
		metaJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert receipt: %w", err)
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, f Filter) ([]types.Receipt, error) {
	query := strings.Builder{}
	query.WriteString(`
		SELECT request_id, endpoint, COALESCE(wallet_address, ''), status, reason_code,
			COALESCE(network, ''), COALESCE(asset, ''), COALESCE(amount_atomic, ''),
			COALESCE(tx_hash, ''), COALESCE(facilitator_url, ''), metadata, created_at
		FROM payment_receipts`)

	args := []interface{}{}
	conds := []string{}
	if f.WalletAddress != "" {
		args = append(args, strings.ToLower(f.WalletAddress))
		conds = append(conds, fmt.Sprintf("wallet_address = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Endpoint != "" {
		args = append(args, f.Endpoint)
		conds = append(conds, fmt.Sprintf("endpoint = $%d", len(args)))
	}
	if len(conds) > 0 {
		query.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	args = append(args, f.ClampLimit())
	query.WriteString(fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args)))

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var out []types.Receipt
	for rows.Next() {
		var r types.Receipt
		var metaJSON []byte
		if err := rows.Scan(
			&r.RequestID, &r.Endpoint, &r.WalletAddress, &r.Status, &r.ReasonCode,
			&r.Network, &r.Asset, &r.AmountAtomic, &r.TxHash, &r.FacilitatorURL,
			&metaJSON, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &r.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode receipt metadata: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
