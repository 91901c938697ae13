package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit trail.
type Metrics struct {
	EventsRecorded *prometheus.CounterVec
	RecordFailures prometheus.Counter
	AnomalyReports prometheus.Counter
}

// New creates and registers audit metrics on the default registerer.
func New() *Metrics {
	return &Metrics{
		EventsRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_security_events_recorded_total",
			Help: "Security events appended to the audit trail, by action",
		}, []string{"action"}),
		RecordFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vigil_security_event_record_failures_total",
			Help: "Security events that failed to persist (forensic gap signal)",
		}),
		AnomalyReports: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vigil_security_anomaly_reports_total",
			Help: "Anomaly reports computed",
		}),
	}
}
