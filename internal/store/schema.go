/**
 * @description
 * Idempotent schema bootstrap for the wallet-service tables. Runs at startup
 * so a fresh database is usable without an external migration step.
 */

package store

import (
	"context"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS wallets (
	owner       TEXT PRIMARY KEY,
	balance     NUMERIC(20,7) NOT NULL DEFAULT 0 CHECK (balance >= 0),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS wallet_entries (
	id           BIGSERIAL PRIMARY KEY,
	owner        TEXT NOT NULL REFERENCES wallets(owner),
	kind         TEXT NOT NULL CHECK (kind IN ('deposit', 'debit')),
	amount       NUMERIC(20,7) NOT NULL CHECK (amount > 0),
	external_ref TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (owner, external_ref)
);

CREATE TABLE IF NOT EXISTS inbound_payments (
	payment_id  TEXT PRIMARY KEY,
	owner       TEXT NOT NULL DEFAULT '',
	amount      NUMERIC(20,7) NOT NULL DEFAULT 0,
	state       TEXT NOT NULL DEFAULT 'created',
	txid        TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS withdrawal_requests (
	id                  UUID PRIMARY KEY,
	owner               TEXT NOT NULL,
	amount              NUMERIC(20,7) NOT NULL CHECK (amount > 0),
	destination_address TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'pending',
	txid                TEXT,
	last_error          TEXT,
	approved_at         TIMESTAMPTZ,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_withdrawal_requests_pending
	ON withdrawal_requests (created_at) WHERE status = 'pending';
`

// RunMigrations applies the wallet-service schema.
func RunMigrations(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return err
	}
	log.Println("level=info component=store msg=\"schema migrations applied\"")
	return nil
}
