package ledger

import (
	"context"
)

// Store is the persistence contract for the transaction log, for callers
// that only need ledger access. The full engine contract lives in the
// store package.
type Store interface {
	// Append persists a new entry. Fails on a duplicate non-failed
	// reference for the same user.
	Append(ctx context.Context, e *Entry) error

	// GetByReference returns the non-failed entry recorded under the
	// given idempotency reference.
	GetByReference(ctx context.Context, userID, reference string) (*Entry, error)

	// List returns entries for a user, newest first.
	List(ctx context.Context, userID string, opts ListOptions) ([]*Entry, error)

	// SumCompleted returns the signed sum of all completed entry amounts
	// for a user. By the reconciliation invariant it equals the account's
	// point balance.
	SumCompleted(ctx context.Context, userID string) (int64, error)
}
