// Package policy is the pure gating policy: given a snapshot of an
// entitlement record it decides whether the next download is allowed, and
// from which bucket, or which gate the caller must satisfy first. It
// performs no I/O, so every gating rule is testable in isolation.
package policy

import (
	"fmt"

	"github.com/xraph/turnstile/account"
	"github.com/xraph/turnstile/id"
)

// Config carries the externally settable gating constants. The zero value
// is not usable; start from DefaultConfig.
type Config struct {
	// FreeLimit is the number of free downloads granted per calendar day,
	// both at account creation and on every daily reset.
	FreeLimit int `json:"free_limit" yaml:"free_limit" mapstructure:"free_limit"`

	// AdInterval is how many paid downloads one watched ad covers while
	// the account is below EmailThreshold.
	AdInterval int `json:"ad_interval" yaml:"ad_interval" mapstructure:"ad_interval"`

	// EmailThreshold is the lifetime download count at which further
	// downloads require a collected email address.
	EmailThreshold int64 `json:"email_threshold" yaml:"email_threshold" mapstructure:"email_threshold"`

	// PointCost is the point price of one download once the account is
	// past the ad tier.
	PointCost int64 `json:"point_cost" yaml:"point_cost" mapstructure:"point_cost"`
}

// DefaultConfig returns the stock gating constants: two free downloads a
// day, one ad per three paid downloads, email gate at five lifetime
// downloads, ten points per download after that.
func DefaultConfig() Config {
	return Config{
		FreeLimit:      2,
		AdInterval:     3,
		EmailThreshold: 5,
		PointCost:      10,
	}
}

// Validate checks the constants are internally consistent.
func (c Config) Validate() error {
	if c.FreeLimit < 0 {
		return fmt.Errorf("policy: free limit must not be negative, got %d", c.FreeLimit)
	}
	if c.AdInterval < 1 {
		return fmt.Errorf("policy: ad interval must be at least 1, got %d", c.AdInterval)
	}
	if c.EmailThreshold < 0 {
		return fmt.Errorf("policy: email threshold must not be negative, got %d", c.EmailThreshold)
	}
	if c.PointCost < 1 {
		return fmt.Errorf("policy: point cost must be at least 1, got %d", c.PointCost)
	}
	return nil
}

// Outcome is what the caller must do next.
type Outcome string

const (
	// OutcomeAllow authorizes the download from Decision.Bucket.
	OutcomeAllow Outcome = "allow"
	// OutcomeRequireAd asks for Decision.CreditsNeeded more watched ads.
	OutcomeRequireAd Outcome = "require_ad"
	// OutcomeRequireEmail asks for the one-time email collection.
	OutcomeRequireEmail Outcome = "require_email"
	// OutcomeRequirePoints asks for Decision.Shortfall more points.
	OutcomeRequirePoints Outcome = "require_points"
)

// Bucket names which allowance an allowed download consumes.
type Bucket string

const (
	BucketDaily  Bucket = "daily"
	BucketAd     Bucket = "ad"
	BucketPoints Bucket = "points"
)

// Decision is the result of one policy evaluation. Gates are decisions,
// never errors: a caller satisfies the named gate out of band and calls
// Authorize again.
type Decision struct {
	Outcome Outcome `json:"outcome"`

	// Bucket is set when Outcome is allow.
	Bucket Bucket `json:"bucket,omitempty"`

	// Cost is the point price consumed, set when Bucket is points.
	Cost int64 `json:"cost,omitempty"`

	// CreditsNeeded is how many more ads must be watched, set when
	// Outcome is require_ad.
	CreditsNeeded int64 `json:"credits_needed,omitempty"`

	// Shortfall is how many points are missing, set when Outcome is
	// require_points.
	Shortfall int64 `json:"shortfall,omitempty"`

	// Reason is a short human-readable explanation of a gate.
	Reason string `json:"reason,omitempty"`

	// GrantID identifies the authorized download. Minted by the engine,
	// only on allow; the pure policy leaves it nil.
	GrantID id.GrantID `json:"grant_id,omitempty"`
}

// Allowed reports whether the decision authorizes a download.
func (d Decision) Allowed() bool {
	return d.Outcome == OutcomeAllow
}

// String renders the decision compactly for logs.
func (d Decision) String() string {
	switch d.Outcome {
	case OutcomeAllow:
		return fmt.Sprintf("allow(%s)", d.Bucket)
	case OutcomeRequireAd:
		return fmt.Sprintf("require_ad(need %d)", d.CreditsNeeded)
	case OutcomeRequirePoints:
		return fmt.Sprintf("require_points(short %d)", d.Shortfall)
	default:
		return string(d.Outcome)
	}
}

// Evaluate computes the gate for the next download against a snapshot that
// already had its daily reset applied. The tie-break is fixed: the
// cheapest available bucket wins, free first, then ad-backed while the
// account is below the email threshold, then points.
//
// The ad tier both gates and grants: watching one ad covers AdInterval
// paid downloads, with a partial interval still requiring a whole ad
// (ceiling division). Once LifetimeDownloads reaches EmailThreshold the ad
// tier closes; the account must pass the email gate once and each further
// non-free download costs PointCost.
func Evaluate(a *account.Account, cfg Config) Decision {
	if a.DailyFreeRemaining > 0 {
		return Decision{Outcome: OutcomeAllow, Bucket: BucketDaily}
	}

	if a.LifetimeDownloads < cfg.EmailThreshold {
		next := a.PaidDownloads() + 1
		required := ceilDiv(next, int64(cfg.AdInterval))
		if a.AdsWatched < required {
			return Decision{
				Outcome:       OutcomeRequireAd,
				CreditsNeeded: required - a.AdsWatched,
				Reason:        "daily free quota exhausted",
			}
		}
		return Decision{Outcome: OutcomeAllow, Bucket: BucketAd}
	}

	if !a.EmailCollected {
		return Decision{
			Outcome: OutcomeRequireEmail,
			Reason:  "lifetime download threshold reached",
		}
	}

	if a.PointBalance >= cfg.PointCost {
		return Decision{Outcome: OutcomeAllow, Bucket: BucketPoints, Cost: cfg.PointCost}
	}

	return Decision{
		Outcome:   OutcomeRequirePoints,
		Shortfall: cfg.PointCost - a.PointBalance,
		Reason:    "insufficient point balance",
	}
}

// ceilDiv divides n by d rounding up. Callers guarantee d >= 1 and n >= 0.
func ceilDiv(n, d int64) int64 {
	return (n + d - 1) / d
}
