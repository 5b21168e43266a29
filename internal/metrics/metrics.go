package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus counters for the fleet service.
type Metrics struct {
	ReportsIngestedTotal    prometheus.Counter
	ReportsInvalidTotal     prometheus.Counter
	CorrectionsAppliedTotal prometheus.Counter
	NatsPublishErrors       prometheus.Counter
}

// NewMetrics creates a Metrics instance with all counters registered.
func NewMetrics() *Metrics {
	return &Metrics{
		ReportsIngestedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fleet_reports_ingested_total",
			Help: "Total number of audit reports ingested",
		}),
		ReportsInvalidTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fleet_reports_invalid_total",
			Help: "Total number of malformed report uploads rejected",
		}),
		CorrectionsAppliedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fleet_corrections_applied_total",
			Help: "Total number of control corrections applied",
		}),
		NatsPublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fleet_nats_publish_errors_total",
			Help: "Total number of NATS publish errors",
		}),
	}
}

// IncReportsIngested increments the ingested reports counter.
func (m *Metrics) IncReportsIngested() {
	m.ReportsIngestedTotal.Inc()
}

// IncReportsInvalid increments the rejected uploads counter.
func (m *Metrics) IncReportsInvalid() {
	m.ReportsInvalidTotal.Inc()
}

// IncCorrectionsApplied increments the applied corrections counter.
func (m *Metrics) IncCorrectionsApplied() {
	m.CorrectionsAppliedTotal.Inc()
}

// IncNatsPublishErrors increments the NATS publish error counter.
func (m *Metrics) IncNatsPublishErrors() {
	m.NatsPublishErrors.Inc()
}
