package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for alert governance.
type Metrics struct {
	Decisions       *prometheus.CounterVec
	PublishFailures prometheus.Counter
}

// New creates and registers alert metrics.
func New() *Metrics {
	return &Metrics{
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_alert_auto_create_decisions_total",
			Help: "Auto-create decisions by outcome",
		}, []string{"outcome"}),
		PublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vigil_alert_publish_failures_total",
			Help: "Alert feed publish failures",
		}),
	}
}
