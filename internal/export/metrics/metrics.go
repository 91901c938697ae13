package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the export pipeline.
type Metrics struct {
	Batches         prometheus.Counter
	EventsExported  prometheus.Counter
	CheckpointSaves prometheus.Counter
}

// New creates and registers export metrics.
func New() *Metrics {
	return &Metrics{
		Batches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vigil_export_batches_total",
			Help: "Export batches served",
		}),
		EventsExported: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vigil_export_events_total",
			Help: "Events exported across all batches",
		}),
		CheckpointSaves: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vigil_export_checkpoint_saves_total",
			Help: "Consumer checkpoints recorded",
		}),
	}
}
