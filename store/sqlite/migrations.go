package sqlite

// schema holds the DDL applied by Migrate, one statement per entry because
// ExecContext on this driver runs a single statement at a time.
//
// Timestamps are INTEGER unix nanoseconds, last_reset is an ISO 8601 date
// string, and ad_sessions is a JSON array. The partial unique index is
// what enforces reference idempotency: failed entries and empty references
// never occupy a slot.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS turnstile_accounts (
		user_id              TEXT PRIMARY KEY,
		version              INTEGER NOT NULL DEFAULT 1,
		daily_free_remaining INTEGER NOT NULL DEFAULT 0,
		last_reset           TEXT,
		lifetime_downloads   INTEGER NOT NULL DEFAULT 0,
		free_downloads       INTEGER NOT NULL DEFAULT 0,
		ad_downloads         INTEGER NOT NULL DEFAULT 0,
		point_downloads      INTEGER NOT NULL DEFAULT 0,
		ads_watched          INTEGER NOT NULL DEFAULT 0,
		ad_sessions          TEXT NOT NULL DEFAULT '[]',
		email_collected      INTEGER NOT NULL DEFAULT 0,
		email                TEXT NOT NULL DEFAULT '',
		point_balance        INTEGER NOT NULL DEFAULT 0,
		created_at           INTEGER NOT NULL,
		updated_at           INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS turnstile_entries (
		id            TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL,
		type          TEXT NOT NULL,
		amount        INTEGER NOT NULL DEFAULT 0,
		balance_after INTEGER NOT NULL DEFAULT 0,
		reference     TEXT NOT NULL DEFAULT '',
		description   TEXT NOT NULL DEFAULT '',
		status        TEXT NOT NULL DEFAULT 'completed',
		created_at    INTEGER NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_turnstile_entries_user
		ON turnstile_entries (user_id)`,

	`CREATE INDEX IF NOT EXISTS idx_turnstile_entries_user_status
		ON turnstile_entries (user_id, status)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS idx_turnstile_entries_reference
		ON turnstile_entries (user_id, reference)
		WHERE reference != '' AND status != 'failed'`,
}
