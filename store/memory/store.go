// Package memory provides an in-process Store for tests and embedded use.
// Version tokens are plain counters; every read hands out a deep copy so
// callers can only re-enter state through the conditional apply.
package memory

import (
	"context"
	"sync"

	"github.com/xraph/turnstile"
	"github.com/xraph/turnstile/account"
	"github.com/xraph/turnstile/ledger"
	turnstilestore "github.com/xraph/turnstile/store"
)

// compile-time interface check
var _ turnstilestore.Store = (*Store)(nil)

type accountRow struct {
	acct    *account.Account
	version account.Version
}

type Store struct {
	mu sync.RWMutex

	// Account storage, keyed by user id
	accounts map[string]*accountRow

	// Ledger storage: per-user append-ordered entries plus a reference
	// index over non-failed entries
	entries map[string][]*ledger.Entry
	refs    map[string]*ledger.Entry
}

func New() *Store {
	return &Store{
		accounts: make(map[string]*accountRow),
		entries:  make(map[string][]*ledger.Entry),
		refs:     make(map[string]*ledger.Entry),
	}
}

func refKey(userID, reference string) string {
	return userID + "\x00" + reference
}

// Account Store implementation

func (s *Store) GetAccount(_ context.Context, userID string) (*account.Account, account.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.accounts[userID]
	if !ok {
		return nil, 0, turnstile.ErrNotFound
	}

	a := row.acct.Clone()
	a.Normalize()
	return a, row.version, nil
}

func (s *Store) CreateAccount(_ context.Context, a *account.Account) (account.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[a.UserID]; exists {
		return 0, turnstile.ErrAccountExists
	}

	s.accounts[a.UserID] = &accountRow{acct: a.Clone(), version: 1}
	return 1, nil
}

func (s *Store) ApplyAccount(_ context.Context, a *account.Account, expect account.Version, entries ...*ledger.Entry) (account.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.accounts[a.UserID]
	if !ok {
		return 0, turnstile.ErrNotFound
	}
	if row.version != expect {
		return 0, turnstile.ErrVersionConflict
	}

	for _, e := range entries {
		if err := s.checkReference(e); err != nil {
			return 0, err
		}
	}

	row.acct = a.Clone()
	row.version++
	for _, e := range entries {
		s.appendLocked(e)
	}

	return row.version, nil
}

// Ledger Store implementation

func (s *Store) AppendEntry(_ context.Context, e *ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkReference(e); err != nil {
		return err
	}
	s.appendLocked(e)
	return nil
}

func (s *Store) GetEntryByReference(_ context.Context, userID, reference string) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.refs[refKey(userID, reference)]; ok {
		c := *e
		return &c, nil
	}
	return nil, turnstile.ErrEntryNotFound
}

func (s *Store) ListEntries(_ context.Context, userID string, opts ledger.ListOptions) ([]*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.entries[userID]
	matched := make([]*ledger.Entry, 0)
	// Newest first: entries are stored in append order.
	for i := len(all) - 1; i >= 0; i-- {
		if opts.Matches(all[i]) {
			c := *all[i]
			matched = append(matched, &c)
		}
	}

	start := opts.Offset
	if start > len(matched) {
		start = len(matched)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = turnstilestore.DefaultListLimit
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}

	return matched[start:end], nil
}

func (s *Store) SumCompleted(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum int64
	for _, e := range s.entries[userID] {
		if e.Completed() {
			sum += e.Amount
		}
	}
	return sum, nil
}

// checkReference enforces per-user uniqueness of non-failed references.
// Callers hold the write lock.
func (s *Store) checkReference(e *ledger.Entry) error {
	if e.Reference == "" || e.Status == ledger.StatusFailed {
		return nil
	}
	if _, exists := s.refs[refKey(e.UserID, e.Reference)]; exists {
		return turnstile.ErrDuplicateReference
	}
	return nil
}

// appendLocked stores an entry copy and indexes its reference. Callers
// hold the write lock and have already passed checkReference.
func (s *Store) appendLocked(e *ledger.Entry) {
	c := *e
	s.entries[e.UserID] = append(s.entries[e.UserID], &c)
	if c.Reference != "" && c.Status != ledger.StatusFailed {
		s.refs[refKey(c.UserID, c.Reference)] = &c
	}
}

// Core methods

func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	return nil // Always available
}

func (s *Store) Close() error {
	return nil // Nothing to close
}
