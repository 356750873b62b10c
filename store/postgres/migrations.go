package postgres

// Migration is one versioned schema step. Migrate applies unapplied steps
// in order, each inside its own transaction, and records them in
// turnstile_schema_migrations.
type Migration struct {
	Name    string
	Version string
	Up      string
}

const createMigrationsTableSQL = `
CREATE TABLE IF NOT EXISTS turnstile_schema_migrations (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL DEFAULT '',
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Migrations is the ordered schema history for the PostgreSQL store.
var Migrations = []Migration{
	{
		Name:    "create_turnstile_accounts",
		Version: "20240101000001",
		Up: `
CREATE TABLE IF NOT EXISTS turnstile_accounts (
    user_id              TEXT PRIMARY KEY,
    version              BIGINT NOT NULL DEFAULT 1,
    daily_free_remaining INT NOT NULL DEFAULT 0,
    last_reset           DATE,
    lifetime_downloads   BIGINT NOT NULL DEFAULT 0,
    free_downloads       BIGINT NOT NULL DEFAULT 0,
    ad_downloads         BIGINT NOT NULL DEFAULT 0,
    point_downloads      BIGINT NOT NULL DEFAULT 0,
    ads_watched          BIGINT NOT NULL DEFAULT 0,
    ad_sessions          TEXT[] NOT NULL DEFAULT '{}',
    email_collected      BOOLEAN NOT NULL DEFAULT FALSE,
    email                TEXT NOT NULL DEFAULT '',
    point_balance        BIGINT NOT NULL DEFAULT 0,
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`,
	},
	{
		Name:    "create_turnstile_entries",
		Version: "20240101000002",
		Up: `
CREATE TABLE IF NOT EXISTS turnstile_entries (
    id            TEXT PRIMARY KEY,
    seq           BIGSERIAL,
    user_id       TEXT NOT NULL,
    type          TEXT NOT NULL,
    amount        BIGINT NOT NULL DEFAULT 0,
    balance_after BIGINT NOT NULL DEFAULT 0,
    reference     TEXT NOT NULL DEFAULT '',
    description   TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL DEFAULT 'completed',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_turnstile_entries_user_seq ON turnstile_entries (user_id, seq DESC);
CREATE INDEX IF NOT EXISTS idx_turnstile_entries_user_status ON turnstile_entries (user_id, status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_turnstile_entries_reference ON turnstile_entries (user_id, reference) WHERE reference != '' AND status != 'failed';
`,
	},
}
