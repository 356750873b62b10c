package redisstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/xraph/turnstile"
	"github.com/xraph/turnstile/account"
	"github.com/xraph/turnstile/ledger"
	"github.com/xraph/turnstile/types"
)

func newStore(t *testing.T) *Store {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client)
}

func newAccount(userID string) *account.Account {
	today := types.Day{Year: 2024, Month: time.March, Day: 15}
	return account.New(userID, 2, today, types.NewEntity())
}

func TestAccountLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	if _, _, err := s.GetAccount(ctx, "user-1"); !errors.Is(err, turnstile.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	v, err := s.CreateAccount(ctx, newAccount("user-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if v != 1 {
		t.Errorf("initial version: got %d, want 1", v)
	}

	if _, err := s.CreateAccount(ctx, newAccount("user-1")); !errors.Is(err, turnstile.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}

	a, got, err := s.GetAccount(ctx, "user-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != v {
		t.Errorf("version: got %d, want %d", got, v)
	}
	if a.DailyFreeRemaining != 2 {
		t.Errorf("remaining: got %d, want 2", a.DailyFreeRemaining)
	}
}

func TestApplyAccountVersionCheck(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	a := newAccount("user-1")
	v, err := s.CreateAccount(ctx, a)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	a.DailyFreeRemaining = 1
	v2, err := s.ApplyAccount(ctx, a, v)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if v2 != v+1 {
		t.Errorf("version after apply: got %d, want %d", v2, v+1)
	}

	// A write against the stale token must conflict.
	a.DailyFreeRemaining = 0
	if _, err := s.ApplyAccount(ctx, a, v); !errors.Is(err, turnstile.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	// The conflicted write must not have landed.
	stored, _, err := s.GetAccount(ctx, "user-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.DailyFreeRemaining != 1 {
		t.Errorf("conflicted write leaked: remaining %d", stored.DailyFreeRemaining)
	}

	if _, err := s.ApplyAccount(ctx, newAccount("ghost"), 1); !errors.Is(err, turnstile.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown account, got %v", err)
	}
}

func TestApplyAccountWithEntries(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	a := newAccount("user-1")
	v, _ := s.CreateAccount(ctx, a)

	a.PointBalance = 100
	e := ledger.New("user-1", ledger.TypeCharge, 100, 100, "pay_1", time.Now())
	if _, err := s.ApplyAccount(ctx, a, v, e); err != nil {
		t.Fatalf("apply with entry: %v", err)
	}

	got, err := s.GetEntryByReference(ctx, "user-1", "pay_1")
	if err != nil {
		t.Fatalf("get by reference: %v", err)
	}
	if got.Amount != 100 || got.Type != ledger.TypeCharge {
		t.Errorf("unexpected entry: %+v", got)
	}
	if got.ID != e.ID {
		t.Errorf("entry id: got %s, want %s", got.ID, e.ID)
	}

	sum, err := s.SumCompleted(ctx, "user-1")
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if sum != 100 {
		t.Errorf("sum: got %d, want 100", sum)
	}
}

func TestApplyAccountDuplicateReferenceAtomic(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	a := newAccount("user-1")
	v, _ := s.CreateAccount(ctx, a)

	a.PointBalance = 100
	v, err := s.ApplyAccount(ctx, a, v, ledger.New("user-1", ledger.TypeCharge, 100, 100, "pay_1", time.Now()))
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}

	// Same reference again: the whole apply must fail and the account
	// must keep its previous state.
	a.PointBalance = 200
	if _, err := s.ApplyAccount(ctx, a, v, ledger.New("user-1", ledger.TypeCharge, 100, 200, "pay_1", time.Now())); !errors.Is(err, turnstile.ErrDuplicateReference) {
		t.Fatalf("expected ErrDuplicateReference, got %v", err)
	}

	stored, _, _ := s.GetAccount(ctx, "user-1")
	if stored.PointBalance != 100 {
		t.Errorf("rejected apply mutated the account: balance %d", stored.PointBalance)
	}
	sum, _ := s.SumCompleted(ctx, "user-1")
	if sum != 100 {
		t.Errorf("rejected apply appended its entry: sum %d", sum)
	}
}

func TestAppendEntry(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	if err := s.AppendEntry(ctx, ledger.New("user-1", ledger.TypeCharge, 50, 50, "pay_1", time.Now())); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendEntry(ctx, ledger.New("user-1", ledger.TypeCharge, 50, 100, "pay_1", time.Now())); !errors.Is(err, turnstile.ErrDuplicateReference) {
		t.Fatalf("expected ErrDuplicateReference, got %v", err)
	}

	// Failed entries do not reserve their reference.
	failed := ledger.New("user-1", ledger.TypeRefund, -500, 50, "re_1", time.Now())
	failed.Status = ledger.StatusFailed
	if err := s.AppendEntry(ctx, failed); err != nil {
		t.Fatalf("append failed entry: %v", err)
	}
	if err := s.AppendEntry(ctx, ledger.New("user-1", ledger.TypeRefund, -50, 0, "re_1", time.Now())); err != nil {
		t.Fatalf("reference of a failed entry should stay free: %v", err)
	}

	if _, err := s.GetEntryByReference(ctx, "user-1", "nope"); !errors.Is(err, turnstile.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestListEntries(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	base := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		typ := ledger.TypeCharge
		if i%2 == 1 {
			typ = ledger.TypeDownload
		}
		e := ledger.New("user-1", typ, int64(i), int64(i), "", base.Add(time.Duration(i)*time.Minute))
		if err := s.AppendEntry(ctx, e); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	all, err := s.ListEntries(ctx, "user-1", ledger.ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("list length: got %d, want 5", len(all))
	}
	if all[0].Amount != 4 {
		t.Errorf("expected newest first, got amount %d", all[0].Amount)
	}

	charges, err := s.ListEntries(ctx, "user-1", ledger.ListOptions{Type: ledger.TypeCharge})
	if err != nil {
		t.Fatalf("list charges: %v", err)
	}
	if len(charges) != 3 {
		t.Errorf("charges: got %d, want 3", len(charges))
	}

	paged, err := s.ListEntries(ctx, "user-1", ledger.ListOptions{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("list paged: %v", err)
	}
	if len(paged) != 2 || paged[0].Amount != 3 {
		t.Errorf("paging wrong: %+v", paged)
	}

	sum, err := s.SumCompleted(ctx, "user-1")
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if sum != 0+1+2+3+4 {
		t.Errorf("sum: got %d, want 10", sum)
	}
}

func TestAccountRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	a := newAccount("user-1")
	a.LifetimeDownloads = 7
	a.FreeDownloads = 4
	a.AdDownloads = 2
	a.PointDownloads = 1
	a.AdsWatched = 3
	a.MarkAdSession("sess-1")
	a.MarkAdSession("sess-2")
	a.EmailCollected = true
	a.Email = "kid@example.com"
	a.PointBalance = 90

	if _, err := s.CreateAccount(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, _, err := s.GetAccount(ctx, "user-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LifetimeDownloads != 7 || got.FreeDownloads != 4 || got.AdDownloads != 2 || got.PointDownloads != 1 {
		t.Errorf("counters lost in round trip: %+v", got)
	}
	if !got.SeenAdSession("sess-1") || !got.SeenAdSession("sess-2") {
		t.Error("ad sessions lost in round trip")
	}
	if !got.EmailCollected || got.Email != "kid@example.com" {
		t.Errorf("email state lost: collected %v email %q", got.EmailCollected, got.Email)
	}
	if got.LastReset != (types.Day{Year: 2024, Month: time.March, Day: 15}) {
		t.Errorf("last reset lost: %v", got.LastReset)
	}
}

func TestKeyPrefixIsolation(t *testing.T) {
	ctx := context.Background()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s1 := New(client, WithKeyPrefix("app1:"))
	s2 := New(client, WithKeyPrefix("app2:"))

	if _, err := s1.CreateAccount(ctx, newAccount("user-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := s2.GetAccount(ctx, "user-1"); !errors.Is(err, turnstile.ErrNotFound) {
		t.Fatalf("prefixes leaked: %v", err)
	}
	if _, err := s2.CreateAccount(ctx, newAccount("user-1")); err != nil {
		t.Fatalf("create under second prefix: %v", err)
	}
}
