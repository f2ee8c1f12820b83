// Package metrics provides the Prometheus registry and fragment store metrics
// for fragcheck.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NewRegistry returns a registry carrying the standard Go and process
// collectors and a fragcheck_build_info gauge labelled with version.
func NewRegistry(version string) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
		Name: "fragcheck_build_info",
		Help: "Build information, always 1",
	}, []string{"version"}).WithLabelValues(version).Set(1)

	return reg
}

// StoreMetrics holds the Prometheus metrics of a fragment store.
type StoreMetrics struct {
	Operations       *prometheus.CounterVec // labels: operation, result
	FragmentsWritten prometheus.Counter
	BytesStored      prometheus.Counter
}

// NewStoreMetrics registers store metrics with reg.
// A nil reg uses the default registerer.
func NewStoreMetrics(reg prometheus.Registerer) *StoreMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &StoreMetrics{
		Operations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "fragcheck_store_operations_total",
			Help: "Store operations by operation and result",
		}, []string{"operation", "result"}),
		FragmentsWritten: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "fragcheck_store_fragments_written_total",
			Help: "Fragment files created by Store and AddReference",
		}),
		BytesStored: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "fragcheck_store_bytes_stored_total",
			Help: "Object content bytes accepted by Store",
		}),
	}
}

// RecordOperation counts one store operation. Safe on a nil receiver.
func (m *StoreMetrics) RecordOperation(operation, result string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, result).Inc()
}

// RecordFragment counts one fragment file write. Safe on a nil receiver.
func (m *StoreMetrics) RecordFragment() {
	if m == nil {
		return
	}
	m.FragmentsWritten.Inc()
}

// RecordStored adds n content bytes. Safe on a nil receiver.
func (m *StoreMetrics) RecordStored(n int) {
	if m == nil {
		return
	}
	m.BytesStored.Add(float64(n))
}
