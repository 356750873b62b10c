package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	turnstile "github.com/xraph/turnstile"
	"github.com/xraph/turnstile/account"
	"github.com/xraph/turnstile/ledger"
)

// Column lists shared between the insert and select statements so the arg
// and scan orders cannot drift apart.
const (
	accountColumns = `user_id, version, daily_free_remaining, last_reset, lifetime_downloads, free_downloads, ad_downloads, point_downloads, ads_watched, ad_sessions, email_collected, email, point_balance, created_at, updated_at`

	entryColumns = `id, user_id, type, amount, balance_after, reference, description, status, created_at`
)

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// execer is satisfied by both pgxpool.Pool and pgx.Tx, so entry inserts can
// run standalone or inside the conditional apply transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// accountArgs returns the insert args matching accountColumns, minus the
// version column which the insert statement pins to 1.
func accountArgs(a *account.Account) []any {
	return []any{
		a.UserID,
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
		a.CreatedAt,
		a.UpdatedAt,
	}
}

func scanAccount(row rowScanner) (*account.Account, account.Version, error) {
	var (
		a       account.Account
		version int64
	)
	err := row.Scan(
		&a.UserID,
		&version,
		&a.DailyFreeRemaining,
		&a.LastReset,
		&a.LifetimeDownloads,
		&a.FreeDownloads,
		&a.AdDownloads,
		&a.PointDownloads,
		&a.AdsWatched,
		&a.AdSessions,
		&a.EmailCollected,
		&a.Email,
		&a.PointBalance,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, 0, err
	}
	return &a, account.Version(version), nil
}

func insertEntry(ctx context.Context, db execer, e *ledger.Entry) error {
	_, err := db.Exec(ctx, `
		INSERT INTO turnstile_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		e.ID,
		e.UserID,
		string(e.Type),
		e.Amount,
		e.BalanceAfter,
		e.Reference,
		e.Description,
		string(e.Status),
		e.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return turnstile.ErrDuplicateReference
		}
		return fmt.Errorf("turnstile/postgres: insert entry: %w", err)
	}
	return nil
}

func scanEntry(row rowScanner) (*ledger.Entry, error) {
	var (
		e      ledger.Entry
		typ    string
		status string
	)
	err := row.Scan(
		&e.ID,
		&e.UserID,
		&typ,
		&e.Amount,
		&e.BalanceAfter,
		&e.Reference,
		&e.Description,
		&status,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Type = ledger.Type(typ)
	e.Status = ledger.Status(status)
	return &e, nil
}

// sessionsParam keeps a nil slice from landing as NULL in the NOT NULL
// ad_sessions column.
func sessionsParam(sessions []string) []string {
	if sessions == nil {
		return []string{}
	}
	return sessions
}

// isNoRows checks for the pgx no-rows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isUniqueViolation checks for the PostgreSQL unique_violation error code.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
