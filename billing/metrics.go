package billing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the prometheus collectors of a Manager. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	connectionAttempts   prometheus.Counter
	setupResults         *prometheus.CounterVec
	retriesScheduled     prometheus.Counter
	retriesExhausted     prometheus.Counter
	requestsExecuted     *prometheus.CounterVec
	verificationFailures prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		connectionAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "billing_connection_attempts_total",
			Help: "Total number of connections started against the purchasing service.",
		}),
		setupResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_setup_results_total",
			Help: "Setup callbacks received, by response code.",
		}, []string{"code"}),
		retriesScheduled: factory.NewCounter(prometheus.CounterOpts{
			Name: "billing_retries_scheduled_total",
			Help: "Reconnections scheduled by the retry policy.",
		}),
		retriesExhausted: factory.NewCounter(prometheus.CounterOpts{
			Name: "billing_retries_exhausted_total",
			Help: "Times the retry policy gave up.",
		}),
		requestsExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_requests_executed_total",
			Help: "Requests run against a connected service, by kind.",
		}, []string{"kind"}),
		verificationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "billing_verification_failures_total",
			Help: "Purchases dropped because their signature did not verify.",
		}),
	}
}

func (m *Metrics) connectionAttempt() {
	if m == nil {
		return
	}
	m.connectionAttempts.Inc()
}

func (m *Metrics) setupResult(code ResponseCode) {
	if m == nil {
		return
	}
	m.setupResults.WithLabelValues(code.String()).Inc()
}

func (m *Metrics) retryScheduled() {
	if m == nil {
		return
	}
	m.retriesScheduled.Inc()
}

func (m *Metrics) retryExhausted() {
	if m == nil {
		return
	}
	m.retriesExhausted.Inc()
}

func (m *Metrics) requestExecuted(kind RequestKind) {
	if m == nil {
		return
	}
	m.requestsExecuted.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) verificationFailure() {
	if m == nil {
		return
	}
	m.verificationFailures.Inc()
}
