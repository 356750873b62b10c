// Package redisstore provides a Redis-backed Store. Accounts live as JSON
// documents carrying their own version counter; the conditional apply runs
// under WATCH so a concurrent writer aborts the EXEC instead of losing an
// update. Ledger entries are kept in a per-user list with newest entries at
// the head, plus a per-reference key for idempotency lookups.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	turnstile "github.com/xraph/turnstile"
	"github.com/xraph/turnstile/account"
	"github.com/xraph/turnstile/ledger"
	turnstilestore "github.com/xraph/turnstile/store"
)

// compile-time interface check
var _ turnstilestore.Store = (*Store)(nil)

// DefaultKeyPrefix namespaces all keys written by the store.
const DefaultKeyPrefix = "turnstile:"

// Store implements store.Store on Redis.
type Store struct {
	rdb    *redis.Client
	prefix string
}

// Option configures the store.
type Option func(*Store)

// WithKeyPrefix overrides the key namespace. Useful when several
// deployments share one Redis.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// New wraps an existing Redis client. The caller keeps ownership of the
// client's lifecycle; Close closes it.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{
		rdb:    client,
		prefix: DefaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Client returns the underlying Redis client for direct access.
func (s *Store) Client() *redis.Client { return s.rdb }

func (s *Store) accountKey(userID string) string {
	return s.prefix + "account:" + userID
}

func (s *Store) entriesKey(userID string) string {
	return s.prefix + "entries:" + userID
}

func (s *Store) refKey(userID, reference string) string {
	return s.prefix + "ref:" + userID + ":" + reference
}

// accountDoc is the persisted account shape: the record plus its version
// counter.
type accountDoc struct {
	account.Account
	Version int64 `json:"version"`
}

// ==================== Account Store ====================

func (s *Store) GetAccount(ctx context.Context, userID string) (*account.Account, account.Version, error) {
	raw, err := s.rdb.Get(ctx, s.accountKey(userID)).Bytes()
	if err == redis.Nil {
		return nil, 0, turnstile.ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("turnstile/redis: get account: %w", err)
	}

	var doc accountDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, 0, fmt.Errorf("turnstile/redis: decode account: %w", err)
	}

	a := doc.Account
	a.Normalize()
	return &a, account.Version(doc.Version), nil
}

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) (account.Version, error) {
	doc := accountDoc{Account: *a.Clone(), Version: 1}
	data, err := json.Marshal(&doc)
	if err != nil {
		return 0, fmt.Errorf("turnstile/redis: encode account: %w", err)
	}

	ok, err := s.rdb.SetNX(ctx, s.accountKey(a.UserID), data, 0).Result()
	if err != nil {
		return 0, fmt.Errorf("turnstile/redis: create account: %w", err)
	}
	if !ok {
		return 0, turnstile.ErrAccountExists
	}
	return 1, nil
}

func (s *Store) ApplyAccount(ctx context.Context, a *account.Account, expect account.Version, entries ...*ledger.Entry) (account.Version, error) {
	var next account.Version

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, s.accountKey(a.UserID)).Bytes()
		if err == redis.Nil {
			return turnstile.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("turnstile/redis: read account: %w", err)
		}

		var doc accountDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("turnstile/redis: decode account: %w", err)
		}
		if account.Version(doc.Version) != expect {
			return turnstile.ErrVersionConflict
		}

		for _, e := range entries {
			if e.Reference == "" || e.Status == ledger.StatusFailed {
				continue
			}
			n, err := tx.Exists(ctx, s.refKey(e.UserID, e.Reference)).Result()
			if err != nil {
				return fmt.Errorf("turnstile/redis: check reference: %w", err)
			}
			if n > 0 {
				return turnstile.ErrDuplicateReference
			}
		}

		doc = accountDoc{Account: *a.Clone(), Version: doc.Version + 1}
		data, err := json.Marshal(&doc)
		if err != nil {
			return fmt.Errorf("turnstile/redis: encode account: %w", err)
		}

		encoded := make([][]byte, len(entries))
		for i, e := range entries {
			ed, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("turnstile/redis: encode entry: %w", err)
			}
			encoded[i] = ed
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.accountKey(a.UserID), data, 0)
			for i, e := range entries {
				pipe.LPush(ctx, s.entriesKey(e.UserID), encoded[i])
				if e.Reference != "" && e.Status != ledger.StatusFailed {
					pipe.Set(ctx, s.refKey(e.UserID, e.Reference), encoded[i], 0)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		next = account.Version(doc.Version)
		return nil
	}

	err := s.rdb.Watch(ctx, txf, s.accountKey(a.UserID))
	if errors.Is(err, redis.TxFailedErr) {
		// The watched key changed between the read and the EXEC.
		return 0, turnstile.ErrVersionConflict
	}
	if err != nil {
		return 0, err
	}
	return next, nil
}

// ==================== Ledger Store ====================

func (s *Store) AppendEntry(ctx context.Context, e *ledger.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("turnstile/redis: encode entry: %w", err)
	}

	// Failed and reference-less entries take no idempotency slot.
	if e.Reference == "" || e.Status == ledger.StatusFailed {
		if err := s.rdb.LPush(ctx, s.entriesKey(e.UserID), data).Err(); err != nil {
			return fmt.Errorf("turnstile/redis: append entry: %w", err)
		}
		return nil
	}

	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, s.refKey(e.UserID, e.Reference)).Result()
		if err != nil {
			return fmt.Errorf("turnstile/redis: check reference: %w", err)
		}
		if n > 0 {
			return turnstile.ErrDuplicateReference
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LPush(ctx, s.entriesKey(e.UserID), data)
			pipe.Set(ctx, s.refKey(e.UserID, e.Reference), data, 0)
			return nil
		})
		return err
	}

	err = s.rdb.Watch(ctx, txf, s.refKey(e.UserID, e.Reference))
	if errors.Is(err, redis.TxFailedErr) {
		// A concurrent writer claimed the reference first.
		return turnstile.ErrDuplicateReference
	}
	return err
}

func (s *Store) GetEntryByReference(ctx context.Context, userID, reference string) (*ledger.Entry, error) {
	raw, err := s.rdb.Get(ctx, s.refKey(userID, reference)).Bytes()
	if err == redis.Nil {
		return nil, turnstile.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("turnstile/redis: get entry by reference: %w", err)
	}

	var e ledger.Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("turnstile/redis: decode entry: %w", err)
	}
	return &e, nil
}

func (s *Store) ListEntries(ctx context.Context, userID string, opts ledger.ListOptions) ([]*ledger.Entry, error) {
	all, err := s.loadEntries(ctx, userID)
	if err != nil {
		return nil, err
	}

	matched := make([]*ledger.Entry, 0)
	for _, e := range all {
		if opts.Matches(e) {
			matched = append(matched, e)
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

func (s *Store) SumCompleted(ctx context.Context, userID string) (int64, error) {
	all, err := s.loadEntries(ctx, userID)
	if err != nil {
		return 0, err
	}

	var sum int64
	for _, e := range all {
		if e.Completed() {
			sum += e.Amount
		}
	}
	return sum, nil
}

// loadEntries fetches a user's full history, newest first. Histories are
// small for this workload; filters and sums run client-side like the
// memory store.
func (s *Store) loadEntries(ctx context.Context, userID string) ([]*ledger.Entry, error) {
	raw, err := s.rdb.LRange(ctx, s.entriesKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("turnstile/redis: load entries: %w", err)
	}

	entries := make([]*ledger.Entry, 0, len(raw))
	for _, r := range raw {
		var e ledger.Entry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("turnstile/redis: decode entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, nil
}

// ==================== Core ====================

// Migrate verifies connectivity. Redis needs no schema.
func (s *Store) Migrate(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Ping checks Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.rdb.Close()
}
