package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the token authority.
type Metrics struct {
	VerifyDurationMs  prometheus.Histogram
	Verifications     *prometheus.CounterVec
	LoginAttempts     *prometheus.CounterVec
	LockoutsTriggered prometheus.Counter
}

// New creates and registers token authority metrics.
func New() *Metrics {
	return &Metrics{
		VerifyDurationMs: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vigil_token_verify_duration_ms",
			Help:    "Latency of token verification in milliseconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
		}),
		Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_token_verifications_total",
			Help: "Token verifications by outcome",
		}, []string{"outcome"}),
		LoginAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_login_attempts_total",
			Help: "Authentication attempts by outcome",
		}, []string{"outcome"}),
		LockoutsTriggered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vigil_account_lockouts_total",
			Help: "Account lockouts tripped by repeated failures",
		}),
	}
}
