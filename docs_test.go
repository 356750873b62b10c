package turnstile_test

import (
	"context"
	"log"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/turnstile"
	"github.com/xraph/turnstile/ledger"
	"github.com/xraph/turnstile/policy"
	"github.com/xraph/turnstile/store/memory"
	"github.com/xraph/turnstile/types"
)

// TestDocumentationExamples verifies that all examples in the documentation compile
func TestDocumentationExamples(t *testing.T) {
	// Test Quick Start example from README
	t.Run("QuickStartExample", func(t *testing.T) {
		// Create store (memory for demo, use PostgreSQL in production)
		store := memory.New()

		// Initialize Turnstile
		now := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
		ts := turnstile.New(store,
			turnstile.WithLogger(slog.Default()),
			turnstile.WithPolicy(policy.DefaultConfig()),
			turnstile.WithNow(func() time.Time { return now }),
		)

		// Start the engine
		ctx := context.Background()
		if err := ts.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer ts.Stop()

		userID := "user_123"
		pageID := "page_cute_dinosaur"

		// The first downloads of the day come out of the free allowance
		for i := 0; i < 2; i++ {
			decision, err := ts.Authorize(ctx, userID, pageID)
			if err != nil {
				t.Fatal(err)
			}
			if !decision.Allowed() {
				t.Fatalf("free download %d denied: %s", i+1, decision)
			}
			log.Printf("Download granted from %s bucket: %s\n", decision.Bucket, decision.GrantID)
		}

		// The free allowance is gone; the engine asks for an ad
		decision, err := ts.Authorize(ctx, userID, pageID)
		if err != nil {
			t.Fatal(err)
		}
		if decision.Outcome != policy.OutcomeRequireAd {
			t.Fatalf("expected require_ad, got %s", decision.Outcome)
		}
		log.Printf("Need %d more ad(s)\n", decision.CreditsNeeded)

		// The app shows a rewarded ad and reports the session id
		if _, err := ts.RecordAdWatched(ctx, userID, "ad-session-1"); err != nil {
			t.Fatal(err)
		}

		// One ad covers the next run of downloads
		decision, err = ts.Authorize(ctx, userID, pageID)
		if err != nil {
			t.Fatal(err)
		}
		if decision.Bucket != policy.BucketAd {
			t.Fatalf("expected ad bucket, got %s", decision)
		}

		// A payment webhook credits points, keyed by the payment id
		entry, err := ts.CreditPoints(ctx, userID, 100, "pi_3OqXYZ")
		if err != nil {
			t.Fatal(err)
		}
		log.Printf("Credited %d points, balance %d\n", entry.Amount, entry.BalanceAfter)

		// The ledger explains the balance at all times
		report, err := ts.Reconcile(ctx, userID)
		if err != nil {
			t.Fatal(err)
		}
		if !report.Balanced() {
			t.Fatalf("ledger drift: %d", report.Drift())
		}

		// History lists entries newest first
		entries, err := ts.History(ctx, userID, ledger.ListOptions{Limit: 10})
		if err != nil {
			t.Fatal(err)
		}
		log.Printf("History has %d entries\n", len(entries))
	})

	// Test Day type examples
	t.Run("DayExamples", func(t *testing.T) {
		// Constructors
		d := types.DayOf(time.Date(2024, 3, 15, 23, 30, 0, 0, time.UTC))
		_ = types.Today(time.UTC)

		parsed, err := types.ParseDay("2024-03-15")
		if err != nil {
			t.Fatal(err)
		}
		if parsed != d {
			t.Fatalf("parse mismatch: %s != %s", parsed, d)
		}

		// Arithmetic
		next := d.AddDays(1)

		// Comparison
		if !d.Before(next) {
			t.Fatal("day ordering broken")
		}

		// Formatting
		_ = d.String() // "2024-03-15"
	})
}
