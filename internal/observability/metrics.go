package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the inspection workflow collectors.
type Metrics struct {
	// Transitions counts committed state changes, labeled e.g. "requested_accepted".
	Transitions *prometheus.CounterVec

	// TransitionFailures counts refused operations by transition and error reason.
	TransitionFailures *prometheus.CounterVec

	// OperationDuration observes workflow operation latency in seconds.
	OperationDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered, which tests use to avoid duplicate registration.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inspection",
			Name:      "transitions_total",
			Help:      "Committed inspection request state transitions.",
		}, []string{"transition"}),
		TransitionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inspection",
			Name:      "transition_failures_total",
			Help:      "Inspection operations refused or failed, by reason.",
		}, []string{"transition", "reason"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "inspection",
			Name:      "operation_duration_seconds",
			Help:      "Duration of inspection workflow operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

// RecordTransition counts a committed transition.
func (m *Metrics) RecordTransition(transition string) {
	m.Transitions.WithLabelValues(transition).Inc()
}

// RecordTransitionFailure counts a refused or failed transition.
func (m *Metrics) RecordTransitionFailure(transition, reason string) {
	m.TransitionFailures.WithLabelValues(transition, reason).Inc()
}

// ObserveOperation records how long an operation took since start.
func (m *Metrics) ObserveOperation(operation string, start time.Time) {
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
