package batch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "receipt_extractor"

// Metrics counts what the runner does across batches
type Metrics struct {
	runs       *prometheus.CounterVec
	processed  prometheus.Counter
	skipped    *prometheus.CounterVec
	backfilled *prometheus.CounterVec
	duration   prometheus.Histogram
}

// NewMetrics registers the batch metrics with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Batch runs by outcome.",
		}, []string{"outcome"}),
		processed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processed_total",
			Help:      "Images turned into records.",
		}),
		skipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_total",
			Help:      "Images skipped, by reason.",
		}, []string{"reason"}),
		backfilled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backfilled_total",
			Help:      "Fields filled with synthetic values, by field.",
		}, []string{"field"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "image_duration_seconds",
			Help:      "Time to turn one image into a record.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
}

// noopMetrics registers into a private registry, so runners without metrics need no nil checks
func noopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
