// Package account holds the per-user entitlement record and its state
// transitions. One Account exists per user, created lazily on first access
// and mutated only through the engine's conditional writes.
package account

import (
	"github.com/xraph/turnstile/types"
)

// SessionHistoryLimit caps how many consumed ad-session ids an Account
// retains for replay detection. Oldest ids are evicted past the limit, so
// replays older than the retained window are treated as new sessions.
const SessionHistoryLimit = 256

// Account is a user's entitlement record: the daily free counter, the
// lifetime download counters behind the ad and email gates, the consumed
// ad-session ids, and the point balance.
//
// All counters are lifetime-monotonic except DailyFreeRemaining, which
// ResetDaily refills once per calendar day in the engine's reference
// timezone.
type Account struct {
	types.Entity
	UserID             string    `json:"user_id"`
	DailyFreeRemaining int       `json:"daily_free_remaining"`
	LastReset          types.Day `json:"last_reset"`
	LifetimeDownloads  int64     `json:"lifetime_downloads"`
	FreeDownloads      int64     `json:"free_downloads"`
	AdDownloads        int64     `json:"ad_downloads"`
	PointDownloads     int64     `json:"point_downloads"`
	AdsWatched         int64     `json:"ads_watched"`
	AdSessions         []string  `json:"ad_sessions,omitempty"`
	EmailCollected     bool      `json:"email_collected"`
	Email              string    `json:"email,omitempty"`
	PointBalance       int64     `json:"point_balance"`
}

// New creates a fresh Account for userID with a full daily allowance,
// all lifetime counters zeroed, and LastReset set to today.
func New(userID string, freeLimit int, today types.Day, entity types.Entity) *Account {
	return &Account{
		Entity:             entity,
		UserID:             userID,
		DailyFreeRemaining: freeLimit,
		LastReset:          today,
	}
}

// ResetDaily refills the daily free allowance if the calendar day has
// advanced past LastReset. It returns true when a reset was applied.
// Calling it again on the same day is a no-op, so it is safe to invoke
// before every policy evaluation.
func (a *Account) ResetDaily(today types.Day, freeLimit int) bool {
	if a.LastReset == today {
		return false
	}
	a.DailyFreeRemaining = freeLimit
	a.LastReset = today
	return true
}

// PaidDownloads returns how many lifetime downloads were granted outside
// the daily free bucket.
func (a *Account) PaidDownloads() int64 {
	return a.LifetimeDownloads - a.FreeDownloads
}

// SeenAdSession reports whether the given ad-session id was already
// consumed by RecordAdWatched.
func (a *Account) SeenAdSession(sessionID string) bool {
	for _, s := range a.AdSessions {
		if s == sessionID {
			return true
		}
	}
	return false
}

// MarkAdSession records a consumed ad-session id, evicting the oldest id
// once SessionHistoryLimit is exceeded.
func (a *Account) MarkAdSession(sessionID string) {
	a.AdSessions = append(a.AdSessions, sessionID)
	if len(a.AdSessions) > SessionHistoryLimit {
		a.AdSessions = a.AdSessions[len(a.AdSessions)-SessionHistoryLimit:]
	}
}

// Clone returns a deep copy. The engine mutates clones inside its retry
// loop so a conflicted attempt never leaks partial state into the next
// read, and stores hand out clones so callers cannot reach shared memory.
func (a *Account) Clone() *Account {
	c := *a
	if a.AdSessions != nil {
		c.AdSessions = make([]string, len(a.AdSessions))
		copy(c.AdSessions, a.AdSessions)
	}
	return &c
}

// Normalize repairs malformed persisted state: negative counters clamp to
// zero and the per-bucket counters are rebalanced so their sum never
// exceeds LifetimeDownloads. Stores call it after loading a record.
func (a *Account) Normalize() {
	if a.DailyFreeRemaining < 0 {
		a.DailyFreeRemaining = 0
	}
	if a.LifetimeDownloads < 0 {
		a.LifetimeDownloads = 0
	}
	if a.FreeDownloads < 0 {
		a.FreeDownloads = 0
	}
	if a.AdDownloads < 0 {
		a.AdDownloads = 0
	}
	if a.PointDownloads < 0 {
		a.PointDownloads = 0
	}
	if a.AdsWatched < 0 {
		a.AdsWatched = 0
	}
	if a.PointBalance < 0 {
		a.PointBalance = 0
	}
	if sum := a.FreeDownloads + a.AdDownloads + a.PointDownloads; sum > a.LifetimeDownloads {
		a.LifetimeDownloads = sum
	}
}
