// Package turnstile provides an embeddable download entitlement engine for Go applications.
//
// Turnstile is designed as a library, not a service. Import it directly into your Go
// application and put it in front of anything downloadable. It provides:
//
//   - A daily free allowance with lazy calendar-day resets (no background timers)
//   - A rewarded-ad tier where one ad unlocks a configurable run of downloads
//   - A one-time email gate at a lifetime download threshold
//   - A point balance with an append-only, idempotent transaction ledger
//   - Per-user serializability via optimistic concurrency with bounded retries
//   - Comprehensive audit trail and metrics via plugins
//
// # Quick Start
//
// Create an engine with your preferred store:
//
//	import (
//	    "github.com/xraph/turnstile"
//	    "github.com/xraph/turnstile/store/postgres"
//	)
//
//	// Initialize store
//	store, err := postgres.New(ctx, databaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Create engine
//	ts := turnstile.New(store)
//
//	// Start the engine (runs migrations, initializes plugins)
//	if err := ts.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer ts.Stop()
//
// # Core Concepts
//
// Authorize is the single entry point for downloads. It either consumes the
// cheapest available allowance and returns a grant, or names the gate the
// user must satisfy first:
//
//	decision, err := ts.Authorize(ctx, userID, pageID)
//	if err != nil {
//	    return err
//	}
//	switch decision.Outcome {
//	case policy.OutcomeAllow:
//	    serveDownload(decision.GrantID)
//	case policy.OutcomeRequireAd:
//	    promptRewardedAd(decision.CreditsNeeded)
//	case policy.OutcomeRequireEmail:
//	    promptEmailForm()
//	case policy.OutcomeRequirePoints:
//	    promptPurchase(decision.Shortfall)
//	}
//
// Gates are satisfied out of band and reported back:
//
//	total, err := ts.RecordAdWatched(ctx, userID, adSessionID)
//	err = ts.RecordEmailCollected(ctx, userID, email)
//
// Points arrive from your payment webhook, keyed by the payment id so
// webhook retries collapse into one credit:
//
//	entry, err := ts.CreditPoints(ctx, userID, 100, paymentIntentID)
//
// # Consistency
//
// Every mutation is a read-modify-write against a version token; a
// conflicted write is retried against a fresh snapshot with exponential
// backoff before surfacing ErrContention. Counters only move forward, the
// point balance never goes negative, and the sum of completed ledger
// entries always equals the balance. Reconcile checks that invariant on
// demand.
//
// # TypeID
//
// Turnstile-minted entities use TypeID for globally unique, type-safe identifiers:
//
//	txn_01h2xcejqtf2nbrexx3vqjhp41  // Ledger entry ID
//	dl_01h455vb4pex5vsknk084sn02q   // Download grant ID
//
// TypeIDs are K-sortable, making them ideal for database indexes and
// providing natural time-ordering of entities.
package turnstile
