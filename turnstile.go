package turnstile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/xraph/turnstile/account"
	"github.com/xraph/turnstile/id"
	"github.com/xraph/turnstile/ledger"
	"github.com/xraph/turnstile/plugin"
	"github.com/xraph/turnstile/policy"
	"github.com/xraph/turnstile/store"
	"github.com/xraph/turnstile/types"
)

// Turnstile is the main entitlement engine.
type Turnstile struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger

	// Configuration
	cfg         policy.Config
	loc         *time.Location
	nowFn       func() time.Time
	retry       RetryConfig
	lazyCreate  bool
	autoMigrate bool
}

// RetryConfig bounds the conflict retry loop around conditional writes.
type RetryConfig struct {
	MaxAttempts  int           // Maximum number of write attempts
	InitialDelay time.Duration // Delay before the second attempt
	MaxDelay     time.Duration // Cap on the backoff delay
	Multiplier   float64       // Multiplier for exponential backoff
}

// DefaultRetryConfig returns the default conflict retry configuration.
// Pattern: 5ms, 10ms, 20ms, 40ms, capped at 100ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
	}
}

// New creates a new Turnstile instance.
func New(s store.Store, opts ...Option) *Turnstile {
	t := &Turnstile{
		store:       s,
		plugins:     plugin.NewRegistry(),
		logger:      slog.Default(),
		cfg:         policy.DefaultConfig(),
		loc:         time.UTC,
		nowFn:       time.Now,
		retry:       DefaultRetryConfig(),
		lazyCreate:  true,
		autoMigrate: true,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Option configures a Turnstile instance.
type Option func(*Turnstile)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Turnstile) {
		t.logger = logger
		t.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(t *Turnstile) {
		_ = t.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithPolicy sets the gating constants.
func WithPolicy(cfg policy.Config) Option {
	return func(t *Turnstile) {
		t.cfg = cfg
	}
}

// WithLocation sets the reference timezone for daily resets.
func WithLocation(loc *time.Location) Option {
	return func(t *Turnstile) {
		if loc != nil {
			t.loc = loc
		}
	}
}

// WithNow sets the clock. Tests use it to step through days.
func WithNow(now func() time.Time) Option {
	return func(t *Turnstile) {
		if now != nil {
			t.nowFn = now
		}
	}
}

// WithRetry sets the conflict retry configuration.
func WithRetry(rc RetryConfig) Option {
	return func(t *Turnstile) {
		if rc.MaxAttempts > 0 {
			t.retry = rc
		}
	}
}

// WithLazyCreate controls whether unknown users get a fresh account on
// first touch. Disabled, operations on unknown users return ErrNotFound.
func WithLazyCreate(enabled bool) Option {
	return func(t *Turnstile) {
		t.lazyCreate = enabled
	}
}

// WithAutoMigrate controls whether Start runs store migrations. Disable
// it when schema management happens out of band.
func WithAutoMigrate(enabled bool) Option {
	return func(t *Turnstile) {
		t.autoMigrate = enabled
	}
}

// Start validates configuration, runs store migrations and initializes
// plugins. There are no background workers: daily resets happen lazily
// inside each operation.
func (t *Turnstile) Start(ctx context.Context) error {
	if err := t.cfg.Validate(); err != nil {
		return err
	}

	// Migrate database
	if t.autoMigrate {
		if err := t.store.Migrate(ctx); err != nil {
			return err
		}
	}

	// Initialize plugins
	t.plugins.EmitInit(ctx, t)

	t.logger.Info("turnstile started",
		"free_limit", t.cfg.FreeLimit,
		"ad_interval", t.cfg.AdInterval,
		"email_threshold", t.cfg.EmailThreshold,
		"point_cost", t.cfg.PointCost,
		"timezone", t.loc.String(),
	)

	return nil
}

// Stop shuts down Turnstile.
func (t *Turnstile) Stop() error {
	ctx := context.Background()
	t.plugins.EmitShutdown(ctx)

	return t.store.Close()
}

// Policy returns the active gating constants.
func (t *Turnstile) Policy() policy.Config {
	return t.cfg
}

// ──────────────────────────────────────────────────
// Downloads
// ──────────────────────────────────────────────────

// Authorize decides whether userID may download artifactID now. An
// allowed decision has already consumed its bucket when Authorize
// returns: the daily counter is decremented, or the point cost is
// debited, and a download entry naming the artifact is on the ledger. A
// gate outcome is a decision, not an error.
func (t *Turnstile) Authorize(ctx context.Context, userID, artifactID string) (policy.Decision, error) {
	if artifactID == "" {
		return policy.Decision{}, &ValidationError{Field: "artifact_id", Message: "must not be empty"}
	}

	var decision policy.Decision

	_, reset, err := t.transact(ctx, userID, "authorize", func(a *account.Account) ([]*ledger.Entry, bool, error) {
		decision = policy.Evaluate(a, t.cfg)
		if !decision.Allowed() {
			return nil, false, nil
		}

		decision.GrantID = id.NewGrantID()
		switch decision.Bucket {
		case policy.BucketDaily:
			a.DailyFreeRemaining--
			a.FreeDownloads++
		case policy.BucketAd:
			a.AdDownloads++
		case policy.BucketPoints:
			a.PointBalance -= decision.Cost
			a.PointDownloads++
		}
		a.LifetimeDownloads++

		entry := ledger.New(userID, ledger.TypeDownload, -decision.Cost, a.PointBalance, decision.GrantID.String(), t.nowFn())
		entry.Description = "download " + artifactID
		return []*ledger.Entry{entry}, true, nil
	})
	if err != nil {
		return policy.Decision{}, err
	}

	t.emitReset(ctx, userID, reset)

	if decision.Allowed() {
		t.plugins.EmitDownloadAuthorized(ctx, userID, decision)
		t.logger.Debug("download authorized",
			"user_id", userID,
			"artifact_id", artifactID,
			"bucket", decision.Bucket,
			"grant_id", decision.GrantID,
		)
	} else {
		t.plugins.EmitDownloadDenied(ctx, userID, decision)
		t.logger.Debug("download denied",
			"user_id", userID,
			"artifact_id", artifactID,
			"decision", decision.String(),
		)
	}

	return decision, nil
}

// MaybeResetDaily applies the daily reset if the calendar day advanced.
// Every operation already does this lazily; the method exists for callers
// that want to refresh a record ahead of a burst. It reports whether a
// reset was applied.
func (t *Turnstile) MaybeResetDaily(ctx context.Context, userID string) (bool, error) {
	_, reset, err := t.transact(ctx, userID, "reset_daily", func(_ *account.Account) ([]*ledger.Entry, bool, error) {
		return nil, false, nil
	})
	if err != nil {
		return false, err
	}

	t.emitReset(ctx, userID, reset)
	return reset, nil
}

// ──────────────────────────────────────────────────
// Gate progress
// ──────────────────────────────────────────────────

// RecordAdWatched credits one watched ad and returns the lifetime count.
// Presenting a consumed session id again is a no-op success returning the
// unchanged count.
func (t *Turnstile) RecordAdWatched(ctx context.Context, userID, sessionID string) (int64, error) {
	if sessionID == "" {
		return 0, &ValidationError{Field: "session_id", Message: "must not be empty"}
	}
	if err := t.plugins.VerifyAdSession(ctx, userID, sessionID); err != nil {
		return 0, fmt.Errorf("ad session rejected: %w", err)
	}

	var (
		total     int64
		duplicate bool
	)
	_, reset, err := t.transact(ctx, userID, "record_ad", func(a *account.Account) ([]*ledger.Entry, bool, error) {
		if a.SeenAdSession(sessionID) {
			duplicate = true
			total = a.AdsWatched
			return nil, false, nil
		}
		duplicate = false
		a.MarkAdSession(sessionID)
		a.AdsWatched++
		total = a.AdsWatched
		return nil, true, nil
	})
	if err != nil {
		return 0, err
	}

	t.emitReset(ctx, userID, reset)

	if duplicate {
		t.logger.Debug("duplicate ad session absorbed",
			"user_id", userID,
			"session_id", sessionID,
		)
		return total, nil
	}

	t.plugins.EmitAdWatched(ctx, userID, sessionID, total)
	t.logger.Debug("ad watched",
		"user_id", userID,
		"session_id", sessionID,
		"ads_watched", total,
	)
	return total, nil
}

// RecordEmailCollected marks the one-way email gate as passed. The flag
// never flips back; repeat calls are no-op successes that keep the first
// address.
func (t *Turnstile) RecordEmailCollected(ctx context.Context, userID, email string) error {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return &ValidationError{Field: "email", Message: "not a usable address"}
	}
	if err := t.plugins.ValidateEmail(ctx, email); err != nil {
		return fmt.Errorf("email rejected: %w", err)
	}

	var already bool
	_, reset, err := t.transact(ctx, userID, "record_email", func(a *account.Account) ([]*ledger.Entry, bool, error) {
		if a.EmailCollected {
			already = true
			return nil, false, nil
		}
		already = false
		a.EmailCollected = true
		a.Email = email
		return nil, true, nil
	})
	if err != nil {
		return err
	}

	t.emitReset(ctx, userID, reset)

	if already {
		return nil
	}

	t.plugins.EmitEmailCollected(ctx, userID, email)
	t.logger.Info("email collected", "user_id", userID)
	return nil
}

// ──────────────────────────────────────────────────
// Point ledger
// ──────────────────────────────────────────────────

// CreditPoints adds purchased points. Reference is the caller's
// idempotency key, typically the payment id: replaying a settled
// reference returns the original entry without crediting again.
func (t *Turnstile) CreditPoints(ctx context.Context, userID string, amount int64, reference string) (*ledger.Entry, error) {
	if err := validateMutation(amount, reference); err != nil {
		return nil, err
	}
	if existing, err := t.settledEntry(ctx, userID, reference); existing != nil || err != nil {
		return existing, err
	}

	var entry *ledger.Entry
	_, reset, err := t.transact(ctx, userID, "credit_points", func(a *account.Account) ([]*ledger.Entry, bool, error) {
		a.PointBalance += amount
		entry = ledger.New(userID, ledger.TypeCharge, amount, a.PointBalance, reference, t.nowFn())
		return []*ledger.Entry{entry}, true, nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			// Lost an idempotency race; the winner's entry is authoritative.
			return t.store.GetEntryByReference(ctx, userID, reference)
		}
		return nil, err
	}

	t.emitReset(ctx, userID, reset)
	t.plugins.EmitPointsCredited(ctx, entry)
	t.logger.Info("points credited",
		"user_id", userID,
		"amount", amount,
		"balance", entry.BalanceAfter,
		"reference", reference,
	)
	return entry, nil
}

// DebitPoints spends points outside the download path. It fails with
// ErrInsufficientPoints when the balance cannot cover the amount, leaving
// balance and ledger untouched. Idempotent by reference like CreditPoints.
func (t *Turnstile) DebitPoints(ctx context.Context, userID string, amount int64, reference string) (*ledger.Entry, error) {
	if err := validateMutation(amount, reference); err != nil {
		return nil, err
	}
	if existing, err := t.settledEntry(ctx, userID, reference); existing != nil || err != nil {
		return existing, err
	}

	var entry *ledger.Entry
	_, reset, err := t.transact(ctx, userID, "debit_points", func(a *account.Account) ([]*ledger.Entry, bool, error) {
		if a.PointBalance < amount {
			return nil, false, fmt.Errorf("%w: balance %d, debit %d", ErrInsufficientPoints, a.PointBalance, amount)
		}
		a.PointBalance -= amount
		entry = ledger.New(userID, ledger.TypeDebit, -amount, a.PointBalance, reference, t.nowFn())
		return []*ledger.Entry{entry}, true, nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			return t.store.GetEntryByReference(ctx, userID, reference)
		}
		return nil, err
	}

	t.emitReset(ctx, userID, reset)
	t.plugins.EmitPointsDebited(ctx, entry)
	t.logger.Debug("points debited",
		"user_id", userID,
		"amount", amount,
		"balance", entry.BalanceAfter,
		"reference", reference,
	)
	return entry, nil
}

// RefundPoints claws back previously credited points, typically on a
// dispute. A refund larger than the current balance is not clamped: it is
// recorded as a failed entry and returned with ErrInvalidTransition so
// the drift is visible to reconciliation. Failed entries do not reserve
// their reference, so a later retry can still settle.
func (t *Turnstile) RefundPoints(ctx context.Context, userID string, amount int64, reference string) (*ledger.Entry, error) {
	if err := validateMutation(amount, reference); err != nil {
		return nil, err
	}
	if existing, err := t.settledEntry(ctx, userID, reference); existing != nil || err != nil {
		return existing, err
	}

	var entry, rejected *ledger.Entry
	_, reset, err := t.transact(ctx, userID, "refund_points", func(a *account.Account) ([]*ledger.Entry, bool, error) {
		entry, rejected = nil, nil
		if a.PointBalance < amount {
			rejected = ledger.New(userID, ledger.TypeRefund, -amount, a.PointBalance, reference, t.nowFn())
			rejected.Status = ledger.StatusFailed
			rejected.Description = "refund exceeds balance"
			return nil, false, nil
		}
		a.PointBalance -= amount
		entry = ledger.New(userID, ledger.TypeRefund, -amount, a.PointBalance, reference, t.nowFn())
		return []*ledger.Entry{entry}, true, nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			return t.store.GetEntryByReference(ctx, userID, reference)
		}
		return nil, err
	}

	t.emitReset(ctx, userID, reset)

	if rejected != nil {
		// The failure is recorded outside the account write: the balance
		// did not move, only the history gains the failed line.
		if appendErr := t.store.AppendEntry(ctx, rejected); appendErr != nil {
			t.logger.Error("failed refund entry not recorded",
				"user_id", userID,
				"reference", reference,
				"error", appendErr,
			)
		}
		t.plugins.EmitRefundRejected(ctx, rejected, ErrInvalidTransition)
		t.logger.Warn("refund rejected",
			"user_id", userID,
			"amount", amount,
			"balance", rejected.BalanceAfter,
			"reference", reference,
		)
		return rejected, fmt.Errorf("%w: refund %d exceeds balance %d", ErrInvalidTransition, amount, rejected.BalanceAfter)
	}

	t.plugins.EmitPointsRefunded(ctx, entry)
	t.logger.Info("points refunded",
		"user_id", userID,
		"amount", amount,
		"balance", entry.BalanceAfter,
		"reference", reference,
	)
	return entry, nil
}

// ──────────────────────────────────────────────────
// Read access
// ──────────────────────────────────────────────────

// Account returns the user's record with any pending daily reset applied
// virtually. It never persists the reset; that happens with the next
// mutating operation.
func (t *Turnstile) Account(ctx context.Context, userID string) (*account.Account, error) {
	acct, _, err := t.loadOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	acct.ResetDaily(t.today(), t.cfg.FreeLimit)
	return acct, nil
}

// Balance returns the current point balance.
func (t *Turnstile) Balance(ctx context.Context, userID string) (int64, error) {
	acct, err := t.Account(ctx, userID)
	if err != nil {
		return 0, err
	}
	return acct.PointBalance, nil
}

// History lists ledger entries newest first.
func (t *Turnstile) History(ctx context.Context, userID string, opts ledger.ListOptions) ([]*ledger.Entry, error) {
	if userID == "" {
		return nil, ErrInvalidInput
	}
	return t.store.ListEntries(ctx, userID, opts)
}

// ──────────────────────────────────────────────────
// Reconciliation
// ──────────────────────────────────────────────────

// ReconcileReport compares a point balance against the completed ledger.
type ReconcileReport struct {
	UserID       string    `json:"user_id"`
	PointBalance int64     `json:"point_balance"`
	LedgerSum    int64     `json:"ledger_sum"`
	CheckedAt    time.Time `json:"checked_at"`
}

// Balanced reports whether the ledger explains the balance.
func (r *ReconcileReport) Balanced() bool {
	return r.PointBalance == r.LedgerSum
}

// Drift returns balance minus ledger sum; zero when balanced.
func (r *ReconcileReport) Drift() int64 {
	return r.PointBalance - r.LedgerSum
}

// Reconcile checks that the sum of completed ledger entries equals the
// stored point balance. It never creates accounts: reconciling an unknown
// user returns ErrNotFound.
func (t *Turnstile) Reconcile(ctx context.Context, userID string) (*ReconcileReport, error) {
	acct, _, err := t.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	sum, err := t.store.SumCompleted(ctx, userID)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{
		UserID:       userID,
		PointBalance: acct.PointBalance,
		LedgerSum:    sum,
		CheckedAt:    t.nowFn(),
	}

	if !report.Balanced() {
		t.logger.Error("ledger drift detected",
			"user_id", userID,
			"balance", report.PointBalance,
			"ledger_sum", report.LedgerSum,
			"drift", report.Drift(),
		)
	}

	t.plugins.EmitReconciled(ctx, report)
	return report, nil
}

// ──────────────────────────────────────────────────
// Conditional write loop
// ──────────────────────────────────────────────────

// transact runs fn against a fresh snapshot until the conditional write
// lands or the retry budget is exhausted. It applies the lazy daily reset
// before fn and persists whenever fn mutated the account or the reset
// fired. fn may run several times, so it must only capture state through
// its account argument or by overwriting external variables. A non-nil fn
// error aborts without retrying.
func (t *Turnstile) transact(ctx context.Context, userID, op string, fn func(*account.Account) ([]*ledger.Entry, bool, error)) (*account.Account, bool, error) {
	for attempt := 1; attempt <= t.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(t.backoff(attempt - 1)):
			case <-ctx.Done():
				return nil, false, ctx.Err()
			}
		}

		acct, version, err := t.loadOrCreate(ctx, userID)
		if err != nil {
			return nil, false, err
		}

		reset := acct.ResetDaily(t.today(), t.cfg.FreeLimit)

		entries, write, err := fn(acct)
		if err != nil {
			return nil, false, err
		}
		if !write && !reset {
			return acct, false, nil
		}

		acct.TouchAt(t.nowFn())
		if _, err := t.store.ApplyAccount(ctx, acct, version, entries...); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				t.logger.Debug("conditional write conflicted, retrying",
					"user_id", userID,
					"op", op,
					"attempt", attempt,
				)
				continue
			}
			return nil, false, err
		}
		return acct, reset, nil
	}

	t.plugins.EmitContention(ctx, userID, op, t.retry.MaxAttempts)
	t.logger.Warn("conflict retries exhausted",
		"user_id", userID,
		"op", op,
		"attempts", t.retry.MaxAttempts,
	)
	return nil, false, fmt.Errorf("%w: %s after %d attempts", ErrContention, op, t.retry.MaxAttempts)
}

// loadOrCreate reads the account, creating a fresh one on first touch
// when lazy creation is enabled. A lost creation race falls back to
// reading the winner.
func (t *Turnstile) loadOrCreate(ctx context.Context, userID string) (*account.Account, account.Version, error) {
	if userID == "" {
		return nil, 0, ErrInvalidInput
	}

	acct, version, err := t.store.GetAccount(ctx, userID)
	if err == nil {
		return acct, version, nil
	}
	if !errors.Is(err, ErrNotFound) || !t.lazyCreate {
		return nil, 0, err
	}

	fresh := account.New(userID, t.cfg.FreeLimit, t.today(), types.NewEntityAt(t.nowFn()))
	version, err = t.store.CreateAccount(ctx, fresh)
	if err == nil {
		t.logger.Debug("account created", "user_id", userID)
		return fresh, version, nil
	}
	if errors.Is(err, ErrAccountExists) {
		return t.store.GetAccount(ctx, userID)
	}
	return nil, 0, err
}

// backoff returns the jittered delay after the given number of conflicts.
func (t *Turnstile) backoff(conflicts int) time.Duration {
	d := float64(t.retry.InitialDelay) * math.Pow(t.retry.Multiplier, float64(conflicts-1))
	if d > float64(t.retry.MaxDelay) {
		d = float64(t.retry.MaxDelay)
	}
	// Equal jitter keeps colliding writers from retrying in lockstep.
	half := d / 2
	return time.Duration(half + rand.Float64()*half) //nolint:gosec // timing jitter, not cryptographic
}

// today returns the current calendar day in the reference timezone.
func (t *Turnstile) today() types.Day {
	return types.DayOf(t.nowFn().In(t.loc))
}

// emitReset fans a persisted daily reset out to plugins.
func (t *Turnstile) emitReset(ctx context.Context, userID string, reset bool) {
	if !reset {
		return
	}
	t.plugins.EmitDailyReset(ctx, userID, t.today().String())
}

// settledEntry returns the non-failed entry already holding reference, or
// nil when the reference is unused. This is the fast path of the ledger's
// idempotency contract; the store's uniqueness check closes the race.
func (t *Turnstile) settledEntry(ctx context.Context, userID, reference string) (*ledger.Entry, error) {
	existing, err := t.store.GetEntryByReference(ctx, userID, reference)
	if err == nil {
		return existing, nil
	}
	if errors.Is(err, ErrEntryNotFound) {
		return nil, nil
	}
	return nil, err
}

// validateMutation guards the shared preconditions of the point
// operations.
func validateMutation(amount int64, reference string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if reference == "" {
		return &ValidationError{Field: "reference", Message: "must not be empty"}
	}
	return nil
}
