package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	// Type-cached plugin lists for efficient dispatch
	onInit               []OnInit
	onShutdown           []OnShutdown
	onDownloadAuthorized []OnDownloadAuthorized
	onDownloadDenied     []OnDownloadDenied
	onDailyReset         []OnDailyReset
	onAdWatched          []OnAdWatched
	onEmailCollected     []OnEmailCollected
	onPointsCredited     []OnPointsCredited
	onPointsDebited      []OnPointsDebited
	onPointsRefunded     []OnPointsRefunded
	onRefundRejected     []OnRefundRejected
	onContention         []OnContention
	onReconciled         []OnReconciled
	adVerifiers          []AdVerifier
	emailValidators      []EmailValidator
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnDownloadAuthorized); ok {
		r.onDownloadAuthorized = append(r.onDownloadAuthorized, v)
	}
	if v, ok := p.(OnDownloadDenied); ok {
		r.onDownloadDenied = append(r.onDownloadDenied, v)
	}
	if v, ok := p.(OnDailyReset); ok {
		r.onDailyReset = append(r.onDailyReset, v)
	}
	if v, ok := p.(OnAdWatched); ok {
		r.onAdWatched = append(r.onAdWatched, v)
	}
	if v, ok := p.(OnEmailCollected); ok {
		r.onEmailCollected = append(r.onEmailCollected, v)
	}
	if v, ok := p.(OnPointsCredited); ok {
		r.onPointsCredited = append(r.onPointsCredited, v)
	}
	if v, ok := p.(OnPointsDebited); ok {
		r.onPointsDebited = append(r.onPointsDebited, v)
	}
	if v, ok := p.(OnPointsRefunded); ok {
		r.onPointsRefunded = append(r.onPointsRefunded, v)
	}
	if v, ok := p.(OnRefundRejected); ok {
		r.onRefundRejected = append(r.onRefundRejected, v)
	}
	if v, ok := p.(OnContention); ok {
		r.onContention = append(r.onContention, v)
	}
	if v, ok := p.(OnReconciled); ok {
		r.onReconciled = append(r.onReconciled, v)
	}
	if v, ok := p.(AdVerifier); ok {
		r.adVerifiers = append(r.adVerifiers, v)
	}
	if v, ok := p.(EmailValidator); ok {
		r.emailValidators = append(r.emailValidators, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", r.getImplementedInterfaces(p),
	)

	return nil
}

// getImplementedInterfaces returns a list of interfaces implemented by the plugin.
func (r *Registry) getImplementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	// Check each interface
	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	// List all interfaces to check
	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnDownloadAuthorized)(nil)).Elem(), "OnDownloadAuthorized")
	checkInterface(reflect.TypeOf((*OnDownloadDenied)(nil)).Elem(), "OnDownloadDenied")
	checkInterface(reflect.TypeOf((*OnAdWatched)(nil)).Elem(), "OnAdWatched")
	checkInterface(reflect.TypeOf((*OnEmailCollected)(nil)).Elem(), "OnEmailCollected")
	checkInterface(reflect.TypeOf((*OnPointsCredited)(nil)).Elem(), "OnPointsCredited")
	checkInterface(reflect.TypeOf((*AdVerifier)(nil)).Elem(), "AdVerifier")
	checkInterface(reflect.TypeOf((*EmailValidator)(nil)).Elem(), "EmailValidator")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInit(ctx, engine)
		}); err != nil {
			r.logger.Warn("plugin OnInit failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("plugin OnShutdown failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitDownloadAuthorized emits a download authorized event.
func (r *Registry) EmitDownloadAuthorized(ctx context.Context, userID string, decision interface{}) {
	r.mu.RLock()
	plugins := r.onDownloadAuthorized
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnDownloadAuthorized(ctx, userID, decision)
		}); err != nil {
			r.logger.Warn("plugin OnDownloadAuthorized failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitDownloadDenied emits a download denied event.
func (r *Registry) EmitDownloadDenied(ctx context.Context, userID string, decision interface{}) {
	r.mu.RLock()
	plugins := r.onDownloadDenied
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnDownloadDenied(ctx, userID, decision)
		}); err != nil {
			r.logger.Warn("plugin OnDownloadDenied failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitDailyReset emits a daily reset event.
func (r *Registry) EmitDailyReset(ctx context.Context, userID, day string) {
	r.mu.RLock()
	plugins := r.onDailyReset
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnDailyReset(ctx, userID, day)
		}); err != nil {
			r.logger.Warn("plugin OnDailyReset failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitAdWatched emits an ad watched event.
func (r *Registry) EmitAdWatched(ctx context.Context, userID, sessionID string, total int64) {
	r.mu.RLock()
	plugins := r.onAdWatched
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnAdWatched(ctx, userID, sessionID, total)
		}); err != nil {
			r.logger.Warn("plugin OnAdWatched failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitEmailCollected emits an email collected event.
func (r *Registry) EmitEmailCollected(ctx context.Context, userID, email string) {
	r.mu.RLock()
	plugins := r.onEmailCollected
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnEmailCollected(ctx, userID, email)
		}); err != nil {
			r.logger.Warn("plugin OnEmailCollected failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitPointsCredited emits a points credited event.
func (r *Registry) EmitPointsCredited(ctx context.Context, entry interface{}) {
	r.mu.RLock()
	plugins := r.onPointsCredited
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPointsCredited(ctx, entry)
		}); err != nil {
			r.logger.Warn("plugin OnPointsCredited failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitPointsDebited emits a points debited event.
func (r *Registry) EmitPointsDebited(ctx context.Context, entry interface{}) {
	r.mu.RLock()
	plugins := r.onPointsDebited
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPointsDebited(ctx, entry)
		}); err != nil {
			r.logger.Warn("plugin OnPointsDebited failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitPointsRefunded emits a points refunded event.
func (r *Registry) EmitPointsRefunded(ctx context.Context, entry interface{}) {
	r.mu.RLock()
	plugins := r.onPointsRefunded
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPointsRefunded(ctx, entry)
		}); err != nil {
			r.logger.Warn("plugin OnPointsRefunded failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitRefundRejected emits a refund rejected event.
func (r *Registry) EmitRefundRejected(ctx context.Context, entry interface{}, cause error) {
	r.mu.RLock()
	plugins := r.onRefundRejected
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnRefundRejected(ctx, entry, cause)
		}); err != nil {
			r.logger.Warn("plugin OnRefundRejected failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitContention emits a contention event.
func (r *Registry) EmitContention(ctx context.Context, userID, op string, attempts int) {
	r.mu.RLock()
	plugins := r.onContention
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnContention(ctx, userID, op, attempts)
		}); err != nil {
			r.logger.Warn("plugin OnContention failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitReconciled emits a reconciliation event.
func (r *Registry) EmitReconciled(ctx context.Context, report interface{}) {
	r.mu.RLock()
	plugins := r.onReconciled
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnReconciled(ctx, report)
		}); err != nil {
			r.logger.Warn("plugin OnReconciled failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// ──────────────────────────────────────────────────
// Capability dispatch
// ──────────────────────────────────────────────────

// VerifyAdSession runs all registered ad verifiers. The first rejection
// wins; no verifiers means every session passes.
func (r *Registry) VerifyAdSession(ctx context.Context, userID, sessionID string) error {
	r.mu.RLock()
	verifiers := r.adVerifiers
	r.mu.RUnlock()

	for _, v := range verifiers {
		if err := r.callWithTimeout(ctx, v.Name(), func() error {
			return v.VerifyAdSession(ctx, userID, sessionID)
		}); err != nil {
			return err
		}
	}
	return nil
}

// ValidateEmail runs all registered email validators.
func (r *Registry) ValidateEmail(ctx context.Context, email string) error {
	r.mu.RLock()
	validators := r.emailValidators
	r.mu.RUnlock()

	for _, v := range validators {
		if err := r.callWithTimeout(ctx, v.Name(), func() error {
			return v.ValidateEmail(ctx, email)
		}); err != nil {
			return err
		}
	}
	return nil
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the authorization pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
