package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schemaStatements is the authoritative DDL, ordered by dependency. Every
// statement is idempotent so EnsureSchema can run on every startup.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id                TEXT PRIMARY KEY,
		tenant_id         TEXT NOT NULL,
		email             TEXT NOT NULL UNIQUE,
		password_hash     TEXT,
		roles             TEXT[] NOT NULL DEFAULT '{}',
		totp_secret       TEXT NOT NULL DEFAULT '',
		totp_enrolled_at  TIMESTAMPTZ,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_login_at     TIMESTAMPTZ,
		deleted_at        TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS backup_codes (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		code_hash  TEXT NOT NULL,
		used       BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS api_keys (
		id           TEXT PRIMARY KEY,
		user_id      TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		tenant_id    TEXT NOT NULL,
		name         TEXT NOT NULL,
		key_hash     TEXT NOT NULL,
		scopes       TEXT[] NOT NULL DEFAULT '{}',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at   TIMESTAMPTZ NOT NULL,
		last_used_at TIMESTAMPTZ,
		revoked_at   TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS oauth_accounts (
		id               TEXT PRIMARY KEY,
		user_id          TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		provider         TEXT NOT NULL,
		provider_user_id TEXT NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (provider, provider_user_id)
	)`,

	`CREATE TABLE IF NOT EXISTS email_queue (
		id           TEXT PRIMARY KEY,
		tenant_id    TEXT NOT NULL,
		user_id      TEXT,
		to_address   TEXT NOT NULL,
		subject      TEXT NOT NULL,
		html_body    TEXT NOT NULL DEFAULT '',
		text_body    TEXT NOT NULL DEFAULT '',
		template_id  TEXT NOT NULL DEFAULT '',
		priority     INT NOT NULL DEFAULT 0,
		status       TEXT NOT NULL DEFAULT 'pending',
		retry_count  INT NOT NULL DEFAULT 0,
		bounce_type  TEXT NOT NULL DEFAULT 'none',
		last_error   TEXT NOT NULL DEFAULT '',
		scheduled_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		sent_at      TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS email_queue_claim_idx
		ON email_queue (status, scheduled_at, priority DESC)`,

	`CREATE TABLE IF NOT EXISTS email_suppression (
		address    TEXT PRIMARY KEY,
		tenant_id  TEXT NOT NULL,
		reason     TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS webhooks (
		id                TEXT PRIMARY KEY,
		tenant_id         TEXT NOT NULL,
		url               TEXT NOT NULL,
		secret            TEXT NOT NULL,
		event_types       TEXT[] NOT NULL DEFAULT '{}',
		status            TEXT NOT NULL DEFAULT 'active',
		failure_count     INT NOT NULL DEFAULT 0,
		disabled_reason   TEXT NOT NULL DEFAULT '',
		last_triggered_at TIMESTAMPTZ,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS webhook_deliveries (
		id           TEXT PRIMARY KEY,
		webhook_id   TEXT NOT NULL REFERENCES webhooks(id) ON DELETE CASCADE,
		tenant_id    TEXT NOT NULL,
		event_type   TEXT NOT NULL,
		payload      TEXT NOT NULL,
		url          TEXT NOT NULL,
		signature    TEXT NOT NULL,
		status       TEXT NOT NULL DEFAULT 'pending',
		retry_count  INT NOT NULL DEFAULT 0,
		last_status  INT NOT NULL DEFAULT 0,
		last_error   TEXT NOT NULL DEFAULT '',
		scheduled_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		delivered_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS webhook_deliveries_claim_idx
		ON webhook_deliveries (status, scheduled_at)`,

	`CREATE TABLE IF NOT EXISTS notifications (
		id         TEXT PRIMARY KEY,
		tenant_id  TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		channel    TEXT NOT NULL,
		subject    TEXT NOT NULL DEFAULT '',
		body       TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		read_at    TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS notification_preferences (
		user_id   TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		channel   TEXT NOT NULL,
		enabled   BOOLEAN NOT NULL DEFAULT TRUE,
		PRIMARY KEY (user_id, channel)
	)`,

	`CREATE TABLE IF NOT EXISTS subscriptions (
		id         TEXT PRIMARY KEY,
		tenant_id  TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		event_type TEXT NOT NULL,
		channel    TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (tenant_id, user_id, event_type, channel)
	)`,
}

// EnsureSchema applies the DDL inside one transaction.
func EnsureSchema(ctx context.Context, pool *Pool) error {
	return pool.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, stmt := range schemaStatements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("database: apply schema: %w", err)
			}
		}
		return nil
	})
}
