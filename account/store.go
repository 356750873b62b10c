package account

import (
	"context"
)

// Version is the opaque concurrency token a store returns with every read
// and checks on every write. A mismatch means the record changed since it
// was read and the write must be retried from a fresh read.
type Version int64

// Store is the persistence contract for entitlement records, for callers
// that only need account access. The full engine contract, including the
// atomic account-plus-ledger apply, lives in the store package.
type Store interface {
	// Get returns the record and its current version.
	Get(ctx context.Context, userID string) (*Account, Version, error)

	// Create persists a new record and returns its initial version. Fails
	// if a record already exists for the user.
	Create(ctx context.Context, a *Account) (Version, error)

	// Update persists the record if the stored version still matches
	// expect, returning the new version.
	Update(ctx context.Context, a *Account, expect Version) (Version, error)
}
