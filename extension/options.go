package extension

import (
	turnstile "github.com/xraph/turnstile"
	"github.com/xraph/turnstile/plugin"
	"github.com/xraph/turnstile/store"
)

// Option configures the Turnstile Forge extension.
type Option func(*Extension)

// WithStore sets the store for the engine, bypassing the database config.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithEngineOption passes a turnstile.Option through to the underlying engine.
func WithEngineOption(opt turnstile.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers a turnstile plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, turnstile.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDatabase sets the store backend the extension constructs at Register.
func WithDatabase(db DatabaseConfig) Option {
	return func(e *Extension) { e.config.Database = db }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithDisableLazyCreate makes operations on unknown users fail instead of
// creating a fresh account on first touch.
func WithDisableLazyCreate() Option {
	return func(e *Extension) { e.config.DisableLazyCreate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithFreeLimit sets the number of free downloads granted per day.
func WithFreeLimit(n int) Option {
	return func(e *Extension) { e.config.FreeLimit = n }
}

// WithAdInterval sets the number of downloads unlocked per watched ad.
func WithAdInterval(n int) Option {
	return func(e *Extension) { e.config.AdInterval = n }
}

// WithEmailThreshold sets the lifetime download count that triggers the
// email gate.
func WithEmailThreshold(n int) Option {
	return func(e *Extension) { e.config.EmailThreshold = n }
}

// WithPointCost sets the point price of one download.
func WithPointCost(n int) Option {
	return func(e *Extension) { e.config.PointCost = n }
}

// WithTimezone sets the IANA name of the reference timezone for daily resets.
func WithTimezone(name string) Option {
	return func(e *Extension) { e.config.Timezone = name }
}

// WithRetryAttempts bounds the conflict retry loop around conditional writes.
func WithRetryAttempts(n int) Option {
	return func(e *Extension) { e.config.RetryAttempts = n }
}
