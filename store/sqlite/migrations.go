package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the token ledger store (SQLite).
var Migrations = migrate.NewGroup("tokenledger")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_tokenledger_users",
			Version: "20260101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tokenledger_users (
    id                       TEXT PRIMARY KEY,
    external_id              TEXT NOT NULL DEFAULT '',
    email                    TEXT NOT NULL DEFAULT '',
    pg_customer_id           TEXT NOT NULL DEFAULT '',
    has_active_subscription  INTEGER NOT NULL DEFAULT 0,
    has_payment_issue        INTEGER NOT NULL DEFAULT 0,
    is_deleted               INTEGER NOT NULL DEFAULT 0,
    created_at               TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at               TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tokenledger_users_external_id ON tokenledger_users (external_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tokenledger_users_email ON tokenledger_users (email);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tokenledger_users_pg_customer ON tokenledger_users (pg_customer_id) WHERE pg_customer_id != '';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tokenledger_users`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tokenledger_subscriptions",
			Version: "20260101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tokenledger_subscriptions (
    id                     TEXT PRIMARY KEY,
    user_id                TEXT NOT NULL,
    plan_key               TEXT NOT NULL DEFAULT '',
    plan_tier              TEXT NOT NULL DEFAULT '',
    billing_cycle          TEXT NOT NULL DEFAULT '',
    pg_subscription_id     TEXT NOT NULL DEFAULT '',
    is_active              INTEGER NOT NULL DEFAULT 1,
    current_period_start   TEXT NOT NULL DEFAULT (datetime('now')),
    current_period_end     TEXT NOT NULL DEFAULT (datetime('now')),
    cancel_at_period_end   INTEGER NOT NULL DEFAULT 0,
    tokens_per_cycle       INTEGER NOT NULL DEFAULT 0,
    price_cents            INTEGER NOT NULL DEFAULT 0,
    last_monthly_refill    TEXT,
    payment_failure_reason TEXT NOT NULL DEFAULT '',
    created_at             TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at             TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tokenledger_subs_pg_id ON tokenledger_subscriptions (pg_subscription_id);
CREATE INDEX IF NOT EXISTS idx_tokenledger_subs_user_active ON tokenledger_subscriptions (user_id, is_active);
CREATE INDEX IF NOT EXISTS idx_tokenledger_subs_period_end ON tokenledger_subscriptions (is_active, current_period_end);
CREATE INDEX IF NOT EXISTS idx_tokenledger_subs_yearly ON tokenledger_subscriptions (is_active, billing_cycle);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tokenledger_subscriptions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tokenledger_purchases",
			Version: "20260101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tokenledger_purchases (
    id              TEXT PRIMARY KEY,
    user_id         TEXT NOT NULL,
    plan_tier       TEXT NOT NULL DEFAULT '',
    pg_purchase_id  TEXT NOT NULL DEFAULT '',
    amount_tokens   INTEGER NOT NULL DEFAULT 0,
    discount_cents  INTEGER NOT NULL DEFAULT 0,
    period_start    TEXT NOT NULL DEFAULT (datetime('now')),
    period_end      TEXT NOT NULL DEFAULT (datetime('now')),
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tokenledger_purchases_pg_id ON tokenledger_purchases (pg_purchase_id);
CREATE INDEX IF NOT EXISTS idx_tokenledger_purchases_user ON tokenledger_purchases (user_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tokenledger_purchases`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tokenledger_batches",
			Version: "20260101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tokenledger_batches (
    id              TEXT PRIMARY KEY,
    user_id         TEXT NOT NULL,
    source          TEXT NOT NULL DEFAULT '',
    subscription_id TEXT NOT NULL DEFAULT '',
    purchase_id     TEXT NOT NULL DEFAULT '',
    invoice_id      TEXT NOT NULL DEFAULT '',
    amount          INTEGER NOT NULL DEFAULT 0,
    consumed        INTEGER NOT NULL DEFAULT 0,
    expires_at      TEXT NOT NULL,
    is_active       INTEGER NOT NULL DEFAULT 1,
    note            TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tokenledger_batches_invoice ON tokenledger_batches (invoice_id) WHERE invoice_id != '';
CREATE INDEX IF NOT EXISTS idx_tokenledger_batches_user_active ON tokenledger_batches (user_id, is_active, expires_at);
CREATE INDEX IF NOT EXISTS idx_tokenledger_batches_expiry ON tokenledger_batches (is_active, expires_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tokenledger_batches`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tokenledger_journal",
			Version: "20260101000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tokenledger_journal (
    id       TEXT PRIMARY KEY,
    user_id  TEXT NOT NULL,
    batch_id TEXT NOT NULL,
    delta    INTEGER NOT NULL DEFAULT 0,
    reason   TEXT NOT NULL DEFAULT '',
    at       TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_tokenledger_journal_user ON tokenledger_journal (user_id, at);
CREATE INDEX IF NOT EXISTS idx_tokenledger_journal_batch ON tokenledger_journal (batch_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tokenledger_journal`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tokenledger_referrals",
			Version: "20260101000006",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tokenledger_referrals (
    id                TEXT PRIMARY KEY,
    referrer_user_id  TEXT NOT NULL,
    referred_user_id  TEXT NOT NULL,
    is_rewarded       INTEGER NOT NULL DEFAULT 0,
    created_at        TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at        TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tokenledger_referrals_referred ON tokenledger_referrals (referred_user_id);
CREATE INDEX IF NOT EXISTS idx_tokenledger_referrals_referrer ON tokenledger_referrals (referrer_user_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tokenledger_referrals`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tokenledger_events",
			Version: "20260101000007",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tokenledger_events (
    event_id    TEXT PRIMARY KEY,
    event_type  TEXT NOT NULL DEFAULT '',
    received_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_tokenledger_events_type ON tokenledger_events (event_type);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tokenledger_events`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tokenledger_catalog",
			Version: "20260101000008",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tokenledger_subscription_prices (
    plan_key              TEXT PRIMARY KEY,
    plan_tier             TEXT NOT NULL DEFAULT '',
    billing_cycle         TEXT NOT NULL DEFAULT '',
    tokens_per_cycle      INTEGER NOT NULL DEFAULT 0,
    monthly_refill_tokens INTEGER,
    price_cents           INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS tokenledger_token_prices (
    plan_key    TEXT NOT NULL,
    tier        TEXT NOT NULL,
    tokens      INTEGER NOT NULL DEFAULT 0,
    price_cents INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (plan_key, tier)
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS tokenledger_subscription_prices;
DROP TABLE IF EXISTS tokenledger_token_prices;
`)
				return err
			},
		},
	)
}
