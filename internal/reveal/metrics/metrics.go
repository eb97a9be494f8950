package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the chat reveal module.
type Metrics struct {
	// Transitions by operation and resulting status
	Transitions *prometheus.CounterVec

	// Transition latency by operation
	TransitionLatency *prometheus.HistogramVec

	// Rejected operations by error code
	Rejections *prometheus.CounterVec

	// Live gateway subscriptions
	Subscriptions prometheus.Gauge
}

// New creates a Metrics instance with all reveal module metrics registered.
func New() *Metrics {
	return &Metrics{
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cirvia_reveal_transitions_total",
			Help: "Total reveal state transitions by operation and resulting status",
		}, []string{"op", "status"}),

		TransitionLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cirvia_reveal_transition_duration_seconds",
			Help:    "Duration of reveal state machine operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"op"}), // op: "reveal", "request_mutual", "accept_mutual", "revoke", "status"

		Rejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cirvia_reveal_rejections_total",
			Help: "Reveal operations rejected before any state change, by error code",
		}, []string{"code"}),

		Subscriptions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "cirvia_reveal_gateway_subscriptions",
			Help: "Currently open chat event subscriptions",
		}),
	}
}

// IncTransition records one completed state transition.
func (m *Metrics) IncTransition(op, status string) {
	if m != nil {
		m.Transitions.WithLabelValues(op, status).Inc()
	}
}

// ObserveTransitionLatency records the duration of a state machine operation.
func (m *Metrics) ObserveTransitionLatency(op string, d time.Duration) {
	if m != nil {
		m.TransitionLatency.WithLabelValues(op).Observe(d.Seconds())
	}
}

// IncRejection records one rejected operation.
func (m *Metrics) IncRejection(code string) {
	if m != nil {
		m.Rejections.WithLabelValues(code).Inc()
	}
}

// SubscriptionOpened records a gateway subscription being added.
func (m *Metrics) SubscriptionOpened() {
	if m != nil {
		m.Subscriptions.Inc()
	}
}

// SubscriptionClosed records a gateway subscription being removed.
func (m *Metrics) SubscriptionClosed() {
	if m != nil {
		m.Subscriptions.Dec()
	}
}
