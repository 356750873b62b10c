// Package sqlite provides an embedded SQLite-backed Store on the cgo-free
// modernc.org/sqlite driver. It fits single-process deployments and local
// development; the conditional apply leans on SQLite's single-writer
// transactions, with a busy timeout so concurrent appliers queue instead
// of failing.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	turnstile "github.com/xraph/turnstile"
	"github.com/xraph/turnstile/account"
	"github.com/xraph/turnstile/ledger"
	turnstilestore "github.com/xraph/turnstile/store"
)

// compile-time interface check
var _ turnstilestore.Store = (*Store)(nil)

// Store implements store.Store on a SQLite database file.
type Store struct {
	db *sql.DB
}

// New opens the SQLite database at path. Use a file path, not ":memory:":
// the connection pool would hand every connection its own empty database.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("turnstile/sqlite: open %s: %w", path, err)
	}

	// WAL lets readers run during a write; the busy timeout makes a
	// second writer wait for the lock instead of returning SQLITE_BUSY.
	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("turnstile/sqlite: configure: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an existing database handle. Pragmas are the caller's
// responsibility; Close closes the handle.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database handle for direct access.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate creates the required tables and indexes. Every statement is
// idempotent, so it is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %v", turnstile.ErrMigrationFailed, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Account Store ====================

func (s *Store) GetAccount(ctx context.Context, userID string) (*account.Account, account.Version, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM turnstile_accounts WHERE user_id = ?
	`, userID)

	a, version, err := scanAccount(row)
	if err != nil {
		if isNoRows(err) {
			return nil, 0, turnstile.ErrNotFound
		}
		return nil, 0, fmt.Errorf("turnstile/sqlite: get account: %w", err)
	}
	a.Normalize()
	return a, version, nil
}

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) (account.Version, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turnstile_accounts (`+accountColumns+`)
		VALUES (?, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, accountArgs(a)...)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, turnstile.ErrAccountExists
		}
		return 0, fmt.Errorf("turnstile/sqlite: create account: %w", err)
	}
	return 1, nil
}

func (s *Store) ApplyAccount(ctx context.Context, a *account.Account, expect account.Version, entries ...*ledger.Entry) (account.Version, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("turnstile/sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE turnstile_accounts SET
			version = version + 1,
			daily_free_remaining = ?,
			last_reset = ?,
			lifetime_downloads = ?,
			free_downloads = ?,
			ad_downloads = ?,
			point_downloads = ?,
			ads_watched = ?,
			ad_sessions = ?,
			email_collected = ?,
			email = ?,
			point_balance = ?,
			updated_at = ?
		WHERE user_id = ? AND version = ?
	`,
		a.DailyFreeRemaining,
		a.LastReset,
		a.LifetimeDownloads,
		a.FreeDownloads,
		a.AdDownloads,
		a.PointDownloads,
		a.AdsWatched,
		sessionsJSON(a.AdSessions),
		a.EmailCollected,
		a.Email,
		a.PointBalance,
		a.UpdatedAt.UnixNano(),
		a.UserID,
		int64(expect),
	)
	if err != nil {
		return 0, fmt.Errorf("turnstile/sqlite: apply account: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("turnstile/sqlite: apply account: %w", err)
	}
	if rows == 0 {
		// Zero rows means either the account is gone or the version
		// moved. Tell them apart for the caller.
		var exists bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM turnstile_accounts WHERE user_id = ?)
		`, a.UserID).Scan(&exists); err != nil {
			return 0, fmt.Errorf("turnstile/sqlite: apply account: %w", err)
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

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("turnstile/sqlite: commit: %w", err)
	}
	return expect + 1, nil
}

// ==================== Ledger Store ====================

func (s *Store) AppendEntry(ctx context.Context, e *ledger.Entry) error {
	return insertEntry(ctx, s.db, e)
}

func (s *Store) GetEntryByReference(ctx context.Context, userID, reference string) (*ledger.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM turnstile_entries
		WHERE user_id = ? AND reference = ? AND status != 'failed'
	`, userID, reference)

	e, err := scanEntry(row)
	if err != nil {
		if isNoRows(err) {
			return nil, turnstile.ErrEntryNotFound
		}
		return nil, fmt.Errorf("turnstile/sqlite: get entry by reference: %w", err)
	}
	return e, nil
}

func (s *Store) ListEntries(ctx context.Context, userID string, opts ledger.ListOptions) ([]*ledger.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM turnstile_entries WHERE user_id = ?`
	args := []any{userID}

	if opts.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(opts.Type))
	}
	if opts.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(opts.Status))
	}
	if !opts.Start.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, opts.Start.UnixNano())
	}
	if !opts.End.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, opts.End.UnixNano())
	}

	// Newest first by append order. Entries are never deleted, so the
	// rowid grows with every insert.
	query += ` ORDER BY rowid DESC`

	limit := opts.Limit
	if limit <= 0 {
		limit = turnstilestore.DefaultListLimit
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if opts.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("turnstile/sqlite: list entries: %w", err)
	}
	defer rows.Close()

	result := make([]*ledger.Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("turnstile/sqlite: scan entry: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("turnstile/sqlite: list entries: %w", err)
	}
	return result, nil
}

func (s *Store) SumCompleted(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM turnstile_entries
		WHERE user_id = ? AND status = 'completed'
	`, userID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("turnstile/sqlite: sum completed: %w", err)
	}
	return total, nil
}
