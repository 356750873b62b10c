package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	turnstile "github.com/xraph/turnstile"
	"github.com/xraph/turnstile/account"
	"github.com/xraph/turnstile/ledger"
	turnstilestore "github.com/xraph/turnstile/store"
)

// compile-time interface check
var _ turnstilestore.Store = (*Store)(nil)

// Store implements store.Store on PostgreSQL via pgx. The account version
// column backs the conditional apply: the update carries WHERE version = $n,
// so a concurrent writer makes the statement match zero rows instead of
// clobbering state.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL and returns a store. The connection string is
// anything pgxpool.ParseConfig accepts, typically a postgres:// URL.
func New(ctx context.Context, connString string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("turnstile/postgres: parse connection string: %w", err)
	}

	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("turnstile/postgres: create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("turnstile/postgres: ping: %w", err)
	}

	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing, already configured connection pool.
// Close closes the pool.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying connection pool for direct access.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Migrate applies any schema migrations not yet recorded in
// turnstile_schema_migrations. It is safe to call on every boot.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createMigrationsTableSQL); err != nil {
		return fmt.Errorf("turnstile/postgres: create migrations table: %w", err)
	}

	for _, m := range Migrations {
		applied, err := s.migrationApplied(ctx, m.Version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("%w: %s (version %s): %v", turnstile.ErrMigrationFailed, m.Name, m.Version, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// ==================== Account Store ====================

func (s *Store) GetAccount(ctx context.Context, userID string) (*account.Account, account.Version, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM turnstile_accounts
		WHERE user_id = $1
	`, userID)

	a, version, err := scanAccount(row)
	if err != nil {
		if isNoRows(err) {
			return nil, 0, turnstile.ErrNotFound
		}
		return nil, 0, fmt.Errorf("turnstile/postgres: get account: %w", err)
	}

	a.Normalize()
	return a, version, nil
}

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) (account.Version, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO turnstile_accounts (`+accountColumns+`)
		VALUES ($1, 1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, accountArgs(a)...)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, turnstile.ErrAccountExists
		}
		return 0, fmt.Errorf("turnstile/postgres: create account: %w", err)
	}
	return 1, nil
}

func (s *Store) ApplyAccount(ctx context.Context, a *account.Account, expect account.Version, entries ...*ledger.Entry) (account.Version, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("turnstile/postgres: begin apply: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	res, err := tx.Exec(ctx, `
		UPDATE turnstile_accounts SET
			version = version + 1,
			daily_free_remaining = $1,
			last_reset = $2,
			lifetime_downloads = $3,
			free_downloads = $4,
			ad_downloads = $5,
			point_downloads = $6,
			ads_watched = $7,
			ad_sessions = $8,
			email_collected = $9,
			email = $10,
			point_balance = $11,
			updated_at = $12
		WHERE user_id = $13 AND version = $14
	`,
		a.DailyFreeRemaining,
		a.LastReset,
		a.LifetimeDownloads,
		a.FreeDownloads,
		a.AdDownloads,
		a.PointDownloads,
		a.AdsWatched,
		sessionsParam(a.AdSessions),
		a.EmailCollected,
		a.Email,
		a.PointBalance,
		a.UpdatedAt,
		a.UserID,
		int64(expect),
	)
	if err != nil {
		return 0, fmt.Errorf("turnstile/postgres: update account: %w", err)
	}

	if res.RowsAffected() == 0 {
		// Zero rows is either a missing record or a stale version token.
		var exists bool
		err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM turnstile_accounts WHERE user_id = $1)`, a.UserID).Scan(&exists)
		if err != nil {
			return 0, fmt.Errorf("turnstile/postgres: check account: %w", err)
		}
		if !exists {
			return 0, turnstile.ErrNotFound
		}
		return 0, turnstile.ErrVersionConflict
	}

	for _, e := range entries {
		if err := insertEntry(ctx, tx, e); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("turnstile/postgres: commit apply: %w", err)
	}
	return expect + 1, nil
}

// ==================== Ledger Store ====================

func (s *Store) AppendEntry(ctx context.Context, e *ledger.Entry) error {
	return insertEntry(ctx, s.pool, e)
}

func (s *Store) GetEntryByReference(ctx context.Context, userID, reference string) (*ledger.Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM turnstile_entries
		WHERE user_id = $1 AND reference = $2 AND status != $3
	`, userID, reference, string(ledger.StatusFailed))

	e, err := scanEntry(row)
	if err != nil {
		if isNoRows(err) {
			return nil, turnstile.ErrEntryNotFound
		}
		return nil, fmt.Errorf("turnstile/postgres: get entry by reference: %w", err)
	}
	return e, nil
}

func (s *Store) ListEntries(ctx context.Context, userID string, opts ledger.ListOptions) ([]*ledger.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM turnstile_entries WHERE user_id = $1`
	args := []any{userID}

	if opts.Type != "" {
		args = append(args, string(opts.Type))
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if !opts.Start.IsZero() {
		args = append(args, opts.Start)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !opts.End.IsZero() {
		args = append(args, opts.End)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}

	// Newest first by append order, not timestamp, so entries committed in
	// the same instant keep a stable order.
	query += " ORDER BY seq DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = turnstilestore.DefaultListLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("turnstile/postgres: list entries: %w", err)
	}
	defer rows.Close()

	result := make([]*ledger.Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("turnstile/postgres: scan entry: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("turnstile/postgres: iterate entries: %w", err)
	}
	return result, nil
}

func (s *Store) SumCompleted(ctx context.Context, userID string) (int64, error) {
	var sum int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM turnstile_entries
		WHERE user_id = $1 AND status = $2
	`, userID, string(ledger.StatusCompleted)).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("turnstile/postgres: sum completed: %w", err)
	}
	return sum, nil
}

// ==================== Helpers ====================

func (s *Store) migrationApplied(ctx context.Context, version string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM turnstile_schema_migrations WHERE version = $1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("turnstile/postgres: check migration %s: %w", version, err)
	}
	return exists, nil
}

func (s *Store) applyMigration(ctx context.Context, m Migration) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, m.Up); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO turnstile_schema_migrations (version, name, applied_at)
		VALUES ($1, $2, NOW())
	`, m.Version, m.Name); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
