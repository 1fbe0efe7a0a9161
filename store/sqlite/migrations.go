package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Mandate store.
var Migrations = migrate.NewGroup("mandate")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_mandate_authorizations",
			Version: "20250101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS mandate_authorizations (
    id               TEXT PRIMARY KEY,
    address          TEXT NOT NULL,
    subscription_id  TEXT NOT NULL,
    payer            TEXT NOT NULL,
    receiver         TEXT NOT NULL,
    asset_type       TEXT NOT NULL,
    payer_account    TEXT NOT NULL,
    receiver_account TEXT NOT NULL,
    approved_amount  TEXT NOT NULL DEFAULT '0',
    spent_amount     TEXT NOT NULL DEFAULT '0',
    bump             INTEGER NOT NULL,
    delegate_bump    INTEGER NOT NULL,
    created_at       TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at       TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_mandate_auth_address ON mandate_authorizations (address);
CREATE UNIQUE INDEX IF NOT EXISTS idx_mandate_auth_payer_sub ON mandate_authorizations (payer, subscription_id);
CREATE INDEX IF NOT EXISTS idx_mandate_auth_payer_asset ON mandate_authorizations (payer, asset_type);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS mandate_authorizations`)
				return err
			},
		},
	)
}
