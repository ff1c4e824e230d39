package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order by Migrate. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS balances (
		account_id TEXT           NOT NULL,
		asset      TEXT           NOT NULL,
		available  NUMERIC(38,18) NOT NULL DEFAULT 0,
		held       NUMERIC(38,18) NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ    NOT NULL DEFAULT now(),
		PRIMARY KEY (account_id, asset)
	)`,
	`CREATE TABLE IF NOT EXISTS holds (
		order_id   TEXT PRIMARY KEY,
		account_id TEXT           NOT NULL,
		asset      TEXT           NOT NULL,
		amount     NUMERIC(38,18) NOT NULL,
		created_at TIMESTAMPTZ    NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS holds_account_idx ON holds (account_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		seq            BIGSERIAL PRIMARY KEY,
		id             UUID           NOT NULL UNIQUE,
		account_id     TEXT           NOT NULL,
		asset          TEXT           NOT NULL,
		type           TEXT           NOT NULL,
		amount         NUMERIC(38,18) NOT NULL,
		balance_after  NUMERIC(38,18) NOT NULL,
		reference_id   TEXT           NOT NULL DEFAULT '',
		reference_type TEXT           NOT NULL DEFAULT '',
		description    TEXT           NOT NULL DEFAULT '',
		status         TEXT           NOT NULL,
		created_at     TIMESTAMPTZ    NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ledger_entries_account_idx ON ledger_entries (account_id, seq DESC)`,
	`CREATE INDEX IF NOT EXISTS ledger_entries_reference_idx ON ledger_entries (reference_type, reference_id)
		WHERE reference_id <> ''`,
}

// Migrate creates the ledger tables if they do not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
