// Package ledger holds the append-only point transaction log. Every point
// balance mutation (purchase, spend, refund, download) lands here as
// exactly one Entry, committed in the same atomic operation as the account
// write it belongs to.
package ledger

import (
	"time"

	"github.com/xraph/turnstile/id"
)

// Type classifies what a ledger entry records.
type Type string

const (
	// TypeCharge is a point purchase credited by the payment collaborator.
	TypeCharge Type = "charge"
	// TypeDebit is a point spend outside the download path.
	TypeDebit Type = "debit"
	// TypeRefund is a dispute clawback of previously credited points.
	TypeRefund Type = "refund"
	// TypeDownload is an authorized download; Amount is negative for
	// point-backed grants and zero for free or ad-backed grants.
	TypeDownload Type = "download"
)

// Status is the settlement state of an entry. Only completed entries count
// toward the balance; a rejected refund is recorded as failed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Entry is one immutable line of a user's point history.
//
// Reference carries the caller's idempotency key: a payment id for charges,
// a dispute id for refunds, the grant id for downloads. Within a user it is
// unique across non-failed entries, which is what makes webhook retries
// collapse into their original entry.
type Entry struct {
	ID           id.EntryID `json:"id"`
	UserID       string     `json:"user_id"`
	Type         Type       `json:"type"`
	Amount       int64      `json:"amount"`
	BalanceAfter int64      `json:"balance_after"`
	Reference    string     `json:"reference,omitempty"`
	Description  string     `json:"description,omitempty"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
}

// New creates a completed entry with a fresh id. The caller flips Status
// for the rejected-refund path.
func New(userID string, typ Type, amount, balanceAfter int64, reference string, now time.Time) *Entry {
	return &Entry{
		ID:           id.NewEntryID(),
		UserID:       userID,
		Type:         typ,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		Reference:    reference,
		Status:       StatusCompleted,
		CreatedAt:    now,
	}
}

// Completed reports whether the entry settled and counts toward the balance.
func (e *Entry) Completed() bool {
	return e.Status == StatusCompleted
}

// ListOptions narrows and pages History queries. Zero values mean no
// filter; Limit 0 means the store's default page size.
type ListOptions struct {
	Type   Type
	Status Status
	Start  time.Time
	End    time.Time
	Limit  int
	Offset int
}

// Matches reports whether e passes the Type/Status/time filters. Stores
// without native query pushdown use it to filter in memory.
func (o ListOptions) Matches(e *Entry) bool {
	if o.Type != "" && e.Type != o.Type {
		return false
	}
	if o.Status != "" && e.Status != o.Status {
		return false
	}
	if !o.Start.IsZero() && e.CreatedAt.Before(o.Start) {
		return false
	}
	if !o.End.IsZero() && !e.CreatedAt.Before(o.End) {
		return false
	}
	return true
}
