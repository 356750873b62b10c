// Package prom adapts a Prometheus registry to the observability
// MetricFactory interface so MetricsExtension can publish through
// client_golang without the core packages importing it.
package prom

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xraph/turnstile/observability"
)

var _ observability.MetricFactory = (*Factory)(nil)

// Factory creates Prometheus-backed counters and histograms.
type Factory struct {
	reg prometheus.Registerer
}

// NewFactory wraps a Registerer. A nil reg uses the default registry.
func NewFactory(reg prometheus.Registerer) *Factory {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Factory{reg: reg}
}

// Counter implements observability.MetricFactory.
func (f *Factory) Counter(name string) observability.Counter {
	return promauto.With(f.reg).NewCounter(prometheus.CounterOpts{
		Name: sanitize(name),
		Help: "Total count of " + name + " events",
	})
}

// Histogram implements observability.MetricFactory.
func (f *Factory) Histogram(name string) observability.Histogram {
	return promauto.With(f.reg).NewHistogram(prometheus.HistogramOpts{
		Name:    sanitize(name),
		Help:    "Distribution of " + name,
		Buckets: prometheus.DefBuckets,
	})
}

// sanitize rewrites dotted metric names into the Prometheus form.
func sanitize(name string) string {
	r := strings.NewReplacer(".", "_", "-", "_")
	return r.Replace(name)
}
