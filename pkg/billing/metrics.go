package billing

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters recorded by Event Intake and the Checkout
// Provisioner. A nil *Metrics records nothing.
type Metrics struct {
	events               *prometheus.CounterVec
	storeWriteFailures   *prometheus.CounterVec
	checkouts            *prometheus.CounterVec
	compensationFailures *prometheus.CounterVec
}

// NewMetrics creates the billing counters and registers them with reg.
// A nil registerer leaves the counters unregistered, which is useful in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billsync",
			Name:      "events_total",
			Help:      "Provider lifecycle events processed, by event type and outcome.",
		}, []string{"type", "outcome"}),
		storeWriteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billsync",
			Name:      "store_write_failures_total",
			Help:      "Record store writes that failed and were skipped.",
		}, []string{"operation"}),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billsync",
			Name:      "checkout_total",
			Help:      "Checkout attempts, by outcome and failing stage.",
		}, []string{"outcome", "stage"}),
		compensationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billsync",
			Name:      "checkout_compensation_failures_total",
			Help:      "Compensating provider calls that failed after a checkout failure.",
		}, []string{"stage"}),
	}
	if reg != nil {
		reg.MustRegister(m.events, m.storeWriteFailures, m.checkouts, m.compensationFailures)
	}
	return m
}

func (m *Metrics) event(eventType, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) storeWriteFailed(operation string) {
	if m == nil {
		return
	}
	m.storeWriteFailures.WithLabelValues(operation).Inc()
}

func (m *Metrics) checkout(outcome string, stage CheckoutStage) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(outcome, string(stage)).Inc()
}

func (m *Metrics) compensationFailed(stage CheckoutStage) {
	if m == nil {
		return
	}
	m.compensationFailures.WithLabelValues(string(stage)).Inc()
}
