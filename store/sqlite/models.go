package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

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

// rowScanner is satisfied by both sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// execer is satisfied by both sql.DB and sql.Tx, so entry inserts can run
// standalone or inside the conditional apply transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// accountArgs returns the insert args matching accountColumns, minus the
// version column which the insert statement pins to 1. Timestamps land as
// unix nanoseconds in INTEGER columns.
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
		sessionsJSON(a.AdSessions),
		a.EmailCollected,
		a.Email,
		a.PointBalance,
		a.CreatedAt.UnixNano(),
		a.UpdatedAt.UnixNano(),
	}
}

func scanAccount(row rowScanner) (*account.Account, account.Version, error) {
	var (
		a         account.Account
		version   int64
		sessions  string
		createdAt int64
		updatedAt int64
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
		&sessions,
		&a.EmailCollected,
		&a.Email,
		&a.PointBalance,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, 0, err
	}
	if err := json.Unmarshal([]byte(sessions), &a.AdSessions); err != nil {
		return nil, 0, fmt.Errorf("turnstile/sqlite: decode ad sessions: %w", err)
	}
	a.CreatedAt = time.Unix(0, createdAt).UTC()
	a.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &a, account.Version(version), nil
}

func insertEntry(ctx context.Context, db execer, e *ledger.Entry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO turnstile_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		e.UserID,
		string(e.Type),
		e.Amount,
		e.BalanceAfter,
		e.Reference,
		e.Description,
		string(e.Status),
		e.CreatedAt.UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return turnstile.ErrDuplicateReference
		}
		return fmt.Errorf("turnstile/sqlite: insert entry: %w", err)
	}
	return nil
}

func scanEntry(row rowScanner) (*ledger.Entry, error) {
	var (
		e         ledger.Entry
		typ       string
		status    string
		createdAt int64
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
		&createdAt,
	)
	if err != nil {
		return nil, err
	}
	e.Type = ledger.Type(typ)
	e.Status = ledger.Status(status)
	e.CreatedAt = time.Unix(0, createdAt).UTC()
	return &e, nil
}

// sessionsJSON encodes the session history for its TEXT column. Nil encodes
// as the empty array so the NOT NULL constraint holds.
func sessionsJSON(sessions []string) string {
	if len(sessions) == 0 {
		return "[]"
	}
	b, err := json.Marshal(sessions)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isUniqueViolation checks for the SQLite unique and primary key
// constraint codes.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
