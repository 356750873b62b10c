package extension

import (
	turnstile "github.com/xraph/turnstile"
	"github.com/xraph/turnstile/policy"
)

// Config holds the Turnstile extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.turnstile" or "turnstile" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// DisableLazyCreate makes operations on unknown users fail instead of
	// creating a fresh account on first touch.
	DisableLazyCreate bool `json:"disable_lazy_create" mapstructure:"disable_lazy_create" yaml:"disable_lazy_create"`

	// FreeLimit is the number of free downloads granted per day (default: 2).
	FreeLimit int `json:"free_limit" mapstructure:"free_limit" yaml:"free_limit"`

	// AdInterval is the number of downloads unlocked per watched ad
	// (default: 3).
	AdInterval int `json:"ad_interval" mapstructure:"ad_interval" yaml:"ad_interval"`

	// EmailThreshold is the lifetime download count at which an email
	// address is required before further downloads (default: 5).
	EmailThreshold int `json:"email_threshold" mapstructure:"email_threshold" yaml:"email_threshold"`

	// PointCost is the point price of one download once the earlier gates
	// are exhausted (default: 10).
	PointCost int `json:"point_cost" mapstructure:"point_cost" yaml:"point_cost"`

	// Timezone is the IANA name of the reference timezone for daily resets
	// (default: "UTC").
	Timezone string `json:"timezone" mapstructure:"timezone" yaml:"timezone"`

	// RetryAttempts bounds the conflict retry loop around conditional
	// writes (default: 5).
	RetryAttempts int `json:"retry_attempts" mapstructure:"retry_attempts" yaml:"retry_attempts"`

	// Database selects and configures the store backend. Ignored when a
	// store was provided programmatically via WithStore.
	Database DatabaseConfig `json:"database" mapstructure:"database" yaml:"database"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DatabaseConfig selects the store backend the extension constructs when
// no store was injected programmatically.
type DatabaseConfig struct {
	// Driver is one of "memory", "postgres", "redis", "sqlite" or
	// "mongo" (default: "memory").
	Driver string `json:"driver" mapstructure:"driver" yaml:"driver"`

	// URL is the backend connection string: a postgres DSN, a redis
	// address or redis:// URL, a sqlite file path, or a mongodb:// URI.
	// Unused by memory.
	URL string `json:"url" mapstructure:"url" yaml:"url"`

	// Database is the mongo database name (default: "turnstile").
	// Only the mongo driver reads it.
	Database string `json:"database" mapstructure:"database" yaml:"database"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	quota := policy.DefaultConfig()
	return Config{
		FreeLimit:      quota.FreeLimit,
		AdInterval:     quota.AdInterval,
		EmailThreshold: int(quota.EmailThreshold),
		PointCost:      int(quota.PointCost),
		Timezone:       "UTC",
		RetryAttempts:  turnstile.DefaultRetryConfig().MaxAttempts,
		Database:       DatabaseConfig{Driver: "memory"},
	}
}
