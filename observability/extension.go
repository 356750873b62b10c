// Package observability provides a metrics extension for Turnstile that
// records lifecycle event counts via a pluggable MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/turnstile/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin               = (*MetricsExtension)(nil)
	_ plugin.OnInit               = (*MetricsExtension)(nil)
	_ plugin.OnDownloadAuthorized = (*MetricsExtension)(nil)
	_ plugin.OnDownloadDenied     = (*MetricsExtension)(nil)
	_ plugin.OnDailyReset         = (*MetricsExtension)(nil)
	_ plugin.OnAdWatched          = (*MetricsExtension)(nil)
	_ plugin.OnEmailCollected     = (*MetricsExtension)(nil)
	_ plugin.OnPointsCredited     = (*MetricsExtension)(nil)
	_ plugin.OnPointsDebited      = (*MetricsExtension)(nil)
	_ plugin.OnPointsRefunded     = (*MetricsExtension)(nil)
	_ plugin.OnRefundRejected     = (*MetricsExtension)(nil)
	_ plugin.OnContention         = (*MetricsExtension)(nil)
	_ plugin.OnReconciled         = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a Turnstile plugin to automatically track gating metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Download metrics
	DownloadsAuthorized Counter
	DownloadsDenied     Counter
	DailyResets         Counter

	// Gate progress metrics
	AdsWatched      Counter
	EmailsCollected Counter

	// Point ledger metrics
	PointsCredited  Counter
	PointsDebited   Counter
	PointsRefunded  Counter
	RefundsRejected Counter

	// Operational metrics
	ContentionExhausted Counter
	ContentionAttempts  Histogram
	ReconcileRuns       Counter
	ReconcileDrift      Counter

	// Error metrics
	StoreErrors  Counter
	PluginErrors Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Download metrics
		DownloadsAuthorized: factory.Counter("turnstile.download.authorized"),
		DownloadsDenied:     factory.Counter("turnstile.download.denied"),
		DailyResets:         factory.Counter("turnstile.daily.resets"),

		// Gate progress metrics
		AdsWatched:      factory.Counter("turnstile.ads.watched"),
		EmailsCollected: factory.Counter("turnstile.emails.collected"),

		// Point ledger metrics
		PointsCredited:  factory.Counter("turnstile.points.credited"),
		PointsDebited:   factory.Counter("turnstile.points.debited"),
		PointsRefunded:  factory.Counter("turnstile.points.refunded"),
		RefundsRejected: factory.Counter("turnstile.refunds.rejected"),

		// Operational metrics
		ContentionExhausted: factory.Counter("turnstile.contention.exhausted"),
		ContentionAttempts:  factory.Histogram("turnstile.contention.attempts"),
		ReconcileRuns:       factory.Counter("turnstile.reconcile.runs"),
		ReconcileDrift:      factory.Counter("turnstile.reconcile.drift"),

		// Error metrics
		StoreErrors:  factory.Counter("turnstile.store.errors"),
		PluginErrors: factory.Counter("turnstile.plugin.errors"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	// No initialization needed
	return nil
}

// ──────────────────────────────────────────────────
// Download hooks
// ──────────────────────────────────────────────────

// OnDownloadAuthorized implements plugin.OnDownloadAuthorized.
func (m *MetricsExtension) OnDownloadAuthorized(_ context.Context, _ string, _ interface{}) error {
	m.DownloadsAuthorized.Inc()
	return nil
}

// OnDownloadDenied implements plugin.OnDownloadDenied.
func (m *MetricsExtension) OnDownloadDenied(_ context.Context, _ string, _ interface{}) error {
	m.DownloadsDenied.Inc()
	return nil
}

// OnDailyReset implements plugin.OnDailyReset.
func (m *MetricsExtension) OnDailyReset(_ context.Context, _, _ string) error {
	m.DailyResets.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Gate progress hooks
// ──────────────────────────────────────────────────

// OnAdWatched implements plugin.OnAdWatched.
func (m *MetricsExtension) OnAdWatched(_ context.Context, _, _ string, _ int64) error {
	m.AdsWatched.Inc()
	return nil
}

// OnEmailCollected implements plugin.OnEmailCollected.
func (m *MetricsExtension) OnEmailCollected(_ context.Context, _, _ string) error {
	m.EmailsCollected.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Point ledger hooks
// ──────────────────────────────────────────────────

// OnPointsCredited implements plugin.OnPointsCredited.
func (m *MetricsExtension) OnPointsCredited(_ context.Context, _ interface{}) error {
	m.PointsCredited.Inc()
	return nil
}

// OnPointsDebited implements plugin.OnPointsDebited.
func (m *MetricsExtension) OnPointsDebited(_ context.Context, _ interface{}) error {
	m.PointsDebited.Inc()
	return nil
}

// OnPointsRefunded implements plugin.OnPointsRefunded.
func (m *MetricsExtension) OnPointsRefunded(_ context.Context, _ interface{}) error {
	m.PointsRefunded.Inc()
	return nil
}

// OnRefundRejected implements plugin.OnRefundRejected.
func (m *MetricsExtension) OnRefundRejected(_ context.Context, _ interface{}, _ error) error {
	m.RefundsRejected.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Operational hooks
// ──────────────────────────────────────────────────

// OnContention implements plugin.OnContention.
func (m *MetricsExtension) OnContention(_ context.Context, _, _ string, attempts int) error {
	m.ContentionExhausted.Inc()
	m.ContentionAttempts.Observe(float64(attempts))
	return nil
}

// OnReconciled implements plugin.OnReconciled.
func (m *MetricsExtension) OnReconciled(_ context.Context, report interface{}) error {
	m.ReconcileRuns.Inc()
	if r, ok := report.(interface{ Balanced() bool }); ok && !r.Balanced() {
		m.ReconcileDrift.Inc()
	}
	return nil
}
