// Package extension provides the Forge extension adapter for Turnstile.
//
// It implements the forge.Extension interface to integrate Turnstile
// into a Forge application with automatic store construction,
// DI registration, and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.turnstile" or
// "turnstile" keys.
package extension

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	turnstile "github.com/xraph/turnstile"
	"github.com/xraph/turnstile/policy"
	"github.com/xraph/turnstile/store"
	"github.com/xraph/turnstile/store/memory"
	mongostore "github.com/xraph/turnstile/store/mongo"
	"github.com/xraph/turnstile/store/postgres"
	redisstore "github.com/xraph/turnstile/store/redis"
	sqlitestore "github.com/xraph/turnstile/store/sqlite"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "turnstile"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Download entitlement and point ledger engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// dialTimeout caps backend dialing during Register, which carries no context.
const dialTimeout = 15 * time.Second

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Turnstile as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *turnstile.Turnstile
	store      store.Store
	engineOpts []turnstile.Option
}

// New creates a new Turnstile Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Turnstile instance.
// This is nil until Register is called.
func (e *Extension) Engine() *turnstile.Turnstile { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// constructs the store and engine, and registers the engine in the
// DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Build the configured store if none was provided programmatically.
	if e.store == nil {
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		defer cancel()

		s, err := e.buildStore(ctx)
		if err != nil {
			return err
		}
		e.store = s
	}

	// Build engine options from resolved config.
	opts, err := e.buildEngineOpts()
	if err != nil {
		return err
	}

	e.engine = turnstile.New(e.store, opts...)

	return vessel.Provide(fapp.Container(), func() (*turnstile.Turnstile, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("turnstile: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("turnstile: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildStore constructs the store backend named by the database config.
func (e *Extension) buildStore(ctx context.Context) (store.Store, error) {
	db := e.config.Database

	switch strings.ToLower(db.Driver) {
	case "", "memory":
		return memory.New(), nil

	case "postgres", "postgresql", "pg":
		return postgres.New(ctx, db.URL)

	case "redis":
		ropts, err := redisClientOptions(db.URL)
		if err != nil {
			return nil, fmt.Errorf("turnstile: redis url: %w", err)
		}
		return redisstore.New(redis.NewClient(ropts)), nil

	case "sqlite", "sqlite3":
		return sqlitestore.New(db.URL)

	case "mongo", "mongodb":
		name := db.Database
		if name == "" {
			name = "turnstile"
		}
		return mongostore.New(ctx, db.URL, name)

	default:
		return nil, fmt.Errorf("turnstile: unknown database driver %q", db.Driver)
	}
}

// redisClientOptions accepts either a redis:// URL or a bare host:port address.
func redisClientOptions(url string) (*redis.Options, error) {
	if strings.Contains(url, "://") {
		return redis.ParseURL(url)
	}
	return &redis.Options{Addr: url}, nil
}

// buildEngineOpts constructs turnstile.Option values from the resolved config.
func (e *Extension) buildEngineOpts() ([]turnstile.Option, error) {
	opts := make([]turnstile.Option, 0, len(e.engineOpts)+5)

	opts = append(opts, turnstile.WithPolicy(policy.Config{
		FreeLimit:      e.config.FreeLimit,
		AdInterval:     e.config.AdInterval,
		EmailThreshold: int64(e.config.EmailThreshold),
		PointCost:      int64(e.config.PointCost),
	}))

	if e.config.Timezone != "" {
		loc, err := time.LoadLocation(e.config.Timezone)
		if err != nil {
			return nil, fmt.Errorf("turnstile: timezone %q: %w", e.config.Timezone, err)
		}
		opts = append(opts, turnstile.WithLocation(loc))
	}

	if e.config.RetryAttempts > 0 {
		rc := turnstile.DefaultRetryConfig()
		rc.MaxAttempts = e.config.RetryAttempts
		opts = append(opts, turnstile.WithRetry(rc))
	}

	if e.config.DisableLazyCreate {
		opts = append(opts, turnstile.WithLazyCreate(false))
	}
	if e.config.DisableMigrate {
		opts = append(opts, turnstile.WithAutoMigrate(false))
	}

	// Append any pass-through engine options.
	opts = append(opts, e.engineOpts...)

	return opts, nil
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("turnstile: configuration is required but not found in config files; " +
				"ensure 'extensions.turnstile' or 'turnstile' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("turnstile: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("driver", e.config.Database.Driver),
		forge.F("free_limit", e.config.FreeLimit),
		forge.F("ad_interval", e.config.AdInterval),
		forge.F("email_threshold", e.config.EmailThreshold),
		forge.F("point_cost", e.config.PointCost),
		forge.F("timezone", e.config.Timezone),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.turnstile" first (namespaced pattern).
	if cm.IsSet("extensions.turnstile") {
		if err := cm.Bind("extensions.turnstile", &cfg); err == nil {
			e.Logger().Debug("turnstile: loaded config from file",
				forge.F("key", "extensions.turnstile"),
			)
			return cfg, true
		}
		e.Logger().Warn("turnstile: failed to bind extensions.turnstile config",
			forge.F("error", "bind failed"),
		)
	}

	// Try legacy "turnstile" key.
	if cm.IsSet("turnstile") {
		if err := cm.Bind("turnstile", &cfg); err == nil {
			e.Logger().Debug("turnstile: loaded config from file",
				forge.F("key", "turnstile"),
			)
			return cfg, true
		}
		e.Logger().Warn("turnstile: failed to bind turnstile config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.FreeLimit == 0 {
		cfg.FreeLimit = defaults.FreeLimit
	}
	if cfg.AdInterval == 0 {
		cfg.AdInterval = defaults.AdInterval
	}
	if cfg.EmailThreshold == 0 {
		cfg.EmailThreshold = defaults.EmailThreshold
	}
	if cfg.PointCost == 0 {
		cfg.PointCost = defaults.PointCost
	}
	if cfg.Timezone == "" {
		cfg.Timezone = defaults.Timezone
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = defaults.RetryAttempts
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = defaults.Database.Driver
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.DisableLazyCreate {
		yamlConfig.DisableLazyCreate = true
	}

	// String fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.Timezone == "" && programmaticConfig.Timezone != "" {
		yamlConfig.Timezone = programmaticConfig.Timezone
	}
	if yamlConfig.Database.Driver == "" && programmaticConfig.Database.Driver != "" {
		yamlConfig.Database.Driver = programmaticConfig.Database.Driver
	}
	if yamlConfig.Database.URL == "" && programmaticConfig.Database.URL != "" {
		yamlConfig.Database.URL = programmaticConfig.Database.URL
	}
	if yamlConfig.Database.Database == "" && programmaticConfig.Database.Database != "" {
		yamlConfig.Database.Database = programmaticConfig.Database.Database
	}

	// Int fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.FreeLimit == 0 && programmaticConfig.FreeLimit != 0 {
		yamlConfig.FreeLimit = programmaticConfig.FreeLimit
	}
	if yamlConfig.AdInterval == 0 && programmaticConfig.AdInterval != 0 {
		yamlConfig.AdInterval = programmaticConfig.AdInterval
	}
	if yamlConfig.EmailThreshold == 0 && programmaticConfig.EmailThreshold != 0 {
		yamlConfig.EmailThreshold = programmaticConfig.EmailThreshold
	}
	if yamlConfig.PointCost == 0 && programmaticConfig.PointCost != 0 {
		yamlConfig.PointCost = programmaticConfig.PointCost
	}
	if yamlConfig.RetryAttempts == 0 && programmaticConfig.RetryAttempts != 0 {
		yamlConfig.RetryAttempts = programmaticConfig.RetryAttempts
	}

	// Fill remaining zeros with defaults.
	return e.mergeWithDefaults(yamlConfig)
}
