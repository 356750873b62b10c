// Package plugin provides an extensible plugin system for Turnstile.
// Plugins can hook into various lifecycle events to extend functionality.
package plugin

import (
	"context"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Download hooks
// ──────────────────────────────────────────────────

// OnDownloadAuthorized is called when a download is granted.
type OnDownloadAuthorized interface {
	Plugin
	OnDownloadAuthorized(ctx context.Context, userID string, decision interface{}) error
}

// OnDownloadDenied is called when a download hits a gate.
type OnDownloadDenied interface {
	Plugin
	OnDownloadDenied(ctx context.Context, userID string, decision interface{}) error
}

// OnDailyReset is called when a user's daily free allowance refills.
type OnDailyReset interface {
	Plugin
	OnDailyReset(ctx context.Context, userID, day string) error
}

// ──────────────────────────────────────────────────
// Gate progress hooks
// ──────────────────────────────────────────────────

// OnAdWatched is called when an ad view is credited.
type OnAdWatched interface {
	Plugin
	OnAdWatched(ctx context.Context, userID, sessionID string, total int64) error
}

// OnEmailCollected is called when a user passes the email gate.
type OnEmailCollected interface {
	Plugin
	OnEmailCollected(ctx context.Context, userID, email string) error
}

// ──────────────────────────────────────────────────
// Point ledger hooks
// ──────────────────────────────────────────────────

// OnPointsCredited is called when a purchase lands on the ledger.
type OnPointsCredited interface {
	Plugin
	OnPointsCredited(ctx context.Context, entry interface{}) error
}

// OnPointsDebited is called when points are spent.
type OnPointsDebited interface {
	Plugin
	OnPointsDebited(ctx context.Context, entry interface{}) error
}

// OnPointsRefunded is called when a refund settles.
type OnPointsRefunded interface {
	Plugin
	OnPointsRefunded(ctx context.Context, entry interface{}) error
}

// OnRefundRejected is called when a refund exceeds the balance and is
// recorded as failed instead of applied.
type OnRefundRejected interface {
	Plugin
	OnRefundRejected(ctx context.Context, entry interface{}, cause error) error
}

// ──────────────────────────────────────────────────
// Operational hooks
// ──────────────────────────────────────────────────

// OnContention is called when an operation exhausts its conflict retries.
type OnContention interface {
	Plugin
	OnContention(ctx context.Context, userID, op string, attempts int) error
}

// OnReconciled is called after a ledger reconciliation run.
type OnReconciled interface {
	Plugin
	OnReconciled(ctx context.Context, report interface{}) error
}

// ──────────────────────────────────────────────────
// Ad verification
// ──────────────────────────────────────────────────

// AdVerifier vets an ad-session id before it is credited. A non-nil error
// rejects the session.
type AdVerifier interface {
	Plugin
	VerifyAdSession(ctx context.Context, userID, sessionID string) error
}

// ──────────────────────────────────────────────────
// Email validation
// ──────────────────────────────────────────────────

// EmailValidator vets an email address before the email gate opens.
type EmailValidator interface {
	Plugin
	ValidateEmail(ctx context.Context, email string) error
}
