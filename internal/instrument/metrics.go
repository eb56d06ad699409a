package instrument

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type instrumentMetrics struct {
	durations *prometheus.HistogramVec
	exceeds   *prometheus.CounterVec
	batches   *prometheus.CounterVec
}

var (
	instrumentMetricsOnce sync.Once
	instrumentMetricsInst *instrumentMetrics
)

func globalInstrumentMetrics() *instrumentMetrics {
	instrumentMetricsOnce.Do(func() {
		instrumentMetricsInst = &instrumentMetrics{
			durations: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "tickettransfer",
				Subsystem: "instrument",
				Name:      "operation_duration_seconds",
				Help:      "Duration of monitored operations",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			}, []string{"operation"}),
			exceeds: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tickettransfer",
				Subsystem: "instrument",
				Name:      "threshold_exceeded_total",
				Help:      "Monitored operations that ran past their threshold",
			}, []string{"operation"}),
			batches: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tickettransfer",
				Subsystem: "instrument",
				Name:      "batches_total",
				Help:      "Batches processed by the batch processor, labeled by result",
			}, []string{"result"}),
		}
	})
	return instrumentMetricsInst
}

func (m *instrumentMetrics) observe(name string, d time.Duration) {
	if m == nil {
		return
	}
	m.durations.WithLabelValues(name).Observe(d.Seconds())
}

func (m *instrumentMetrics) exceeded(name string) {
	if m == nil {
		return
	}
	m.exceeds.WithLabelValues(name).Inc()
}

func (m *instrumentMetrics) batch(ok bool) {
	if m == nil {
		return
	}
	result := "committed"
	if !ok {
		result = "failed"
	}
	m.batches.WithLabelValues(result).Inc()
}
