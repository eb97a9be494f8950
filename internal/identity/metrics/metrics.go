package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the identity resolution module.
type Metrics struct {
	// Resolutions by resulting identity level
	Resolutions *prometheus.CounterVec

	// Resolution latency, single and bulk
	ResolveLatency *prometheus.HistogramVec

	// Global defaults auto-created during resolution
	DefaultsCreated prometheus.Counter
}

// New creates a Metrics instance with all identity module metrics registered.
func New() *Metrics {
	return &Metrics{
		Resolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cirvia_identity_resolutions_total",
			Help: "Total identity resolutions by resulting level",
		}, []string{"level"}),

		ResolveLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cirvia_identity_resolve_duration_seconds",
			Help:    "Duration of identity resolution calls",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"op"}), // op: "resolve", "resolve_bulk"

		DefaultsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cirvia_identity_defaults_created_total",
			Help: "Global default scope settings auto-created on first access",
		}),
	}
}

// IncResolution records one resolution outcome.
func (m *Metrics) IncResolution(level string) {
	if m != nil {
		m.Resolutions.WithLabelValues(level).Inc()
	}
}

// ObserveResolveLatency records the duration of a resolution call.
func (m *Metrics) ObserveResolveLatency(op string, d time.Duration) {
	if m != nil {
		m.ResolveLatency.WithLabelValues(op).Observe(d.Seconds())
	}
}

// IncDefaultCreated records one auto-created global default.
func (m *Metrics) IncDefaultCreated() {
	if m != nil {
		m.DefaultsCreated.Inc()
	}
}
