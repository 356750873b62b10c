// Package store defines the unified persistence contract the entitlement
// engine depends on. Backends live in the memory, postgres, redis, sqlite
// and mongo subpackages; the engine only ever sees this interface.
package store

import (
	"context"

	"github.com/xraph/turnstile/account"
	"github.com/xraph/turnstile/ledger"
)

// Store is the unified storage interface for all Turnstile entities.
// Instead of embedding the sub-interfaces, we explicitly declare all methods
// to avoid naming conflicts.
//
// Concurrency contract: GetAccount returns an opaque version token;
// ApplyAccount commits only if the stored version still matches, failing
// with the version-conflict sentinel otherwise. When ApplyAccount is given
// ledger entries they persist in the same atomic operation as the account
// write; a backend must never commit one without the other, or the
// reconciliation invariant breaks under a crash.
type Store interface {
	// Account methods
	GetAccount(ctx context.Context, userID string) (*account.Account, account.Version, error)
	CreateAccount(ctx context.Context, a *account.Account) (account.Version, error)
	ApplyAccount(ctx context.Context, a *account.Account, expect account.Version, entries ...*ledger.Entry) (account.Version, error)

	// Ledger methods
	AppendEntry(ctx context.Context, e *ledger.Entry) error
	GetEntryByReference(ctx context.Context, userID, reference string) (*ledger.Entry, error)
	ListEntries(ctx context.Context, userID string, opts ledger.ListOptions) ([]*ledger.Entry, error)
	SumCompleted(ctx context.Context, userID string) (int64, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// DefaultListLimit is the page size backends use when ListOptions.Limit
// is zero.
const DefaultListLimit = 100
