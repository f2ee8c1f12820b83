package verify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for tree verification.
type Metrics struct {
	PairsCompared prometheus.Counter     // fragcheck_verify_pairs_compared_total
	FilesSkipped  prometheus.Counter     // fragcheck_verify_files_skipped_total
	Findings      *prometheus.CounterVec // fragcheck_verify_findings_total{kind}
	BytesCompared prometheus.Counter     // fragcheck_verify_bytes_compared_total
	WalkDuration  prometheus.Histogram   // fragcheck_verify_walk_duration_seconds
	LastFailures  prometheus.Gauge       // fragcheck_verify_last_failures
}

// NewMetrics registers verification metrics with registry.
// A nil registry uses prometheus.DefaultRegisterer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	m := &Metrics{
		PairsCompared: factory.NewCounter(prometheus.CounterOpts{
			Name: "fragcheck_verify_pairs_compared_total",
			Help: "Total live/saved file pairs compared",
		}),

		FilesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "fragcheck_verify_files_skipped_total",
			Help: "Total files skipped by the tree walk",
		}),

		Findings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fragcheck_verify_findings_total",
			Help: "Total verification findings by kind",
		}, []string{"kind"}),

		BytesCompared: factory.NewCounter(prometheus.CounterOpts{
			Name: "fragcheck_verify_bytes_compared_total",
			Help: "Total bytes of live files whose contents were compared",
		}),

		WalkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fragcheck_verify_walk_duration_seconds",
			Help:    "Duration of full tree comparisons in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),

		LastFailures: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fragcheck_verify_last_failures",
			Help: "Failure count of the most recent tree comparison",
		}),
	}

	// Pre-create every kind so zero counts are exported.
	for _, k := range allKinds {
		m.Findings.WithLabelValues(string(k))
	}
	return m
}

func (m *Metrics) recordFinding(kind Kind) {
	if m == nil {
		return
	}
	m.Findings.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) recordPair(bytes int64) {
	if m == nil {
		return
	}
	m.PairsCompared.Inc()
	m.BytesCompared.Add(float64(bytes))
}

func (m *Metrics) recordSkip() {
	if m == nil {
		return
	}
	m.FilesSkipped.Inc()
}

func (m *Metrics) recordWalk(seconds float64, failures int) {
	if m == nil {
		return
	}
	m.WalkDuration.Observe(seconds)
	m.LastFailures.Set(float64(failures))
}
