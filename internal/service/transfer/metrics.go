package transfer

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/goatkit/tickettransfer/internal/models"
)

type transferMetrics struct {
	runs     *prometheus.CounterVec
	duration prometheus.Histogram
	handled  *prometheus.CounterVec
}

var (
	transferMetricsOnce sync.Once
	transferMetricsInst *transferMetrics
)

func globalTransferMetrics() *transferMetrics {
	transferMetricsOnce.Do(func() {
		transferMetricsInst = &transferMetrics{
			runs: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tickettransfer",
				Subsystem: "transfer",
				Name:      "runs_total",
				Help:      "Transfer runs by final status",
			}, []string{"status"}),
			duration: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: "tickettransfer",
				Subsystem: "transfer",
				Name:      "run_duration_seconds",
				Help:      "Wall time of a transfer run",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			}),
			handled: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tickettransfer",
				Subsystem: "transfer",
				Name:      "subresource_items_total",
				Help:      "Sub-resource items handled by the drivers",
			}, []string{"kind", "result"}),
		}
	})
	return transferMetricsInst
}

func (m *transferMetrics) run(status models.TransferStatus, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(status)).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *transferMetrics) items(kind string, r DriverResult) {
	if m == nil {
		return
	}
	m.handled.WithLabelValues(kind, "transferred").Add(float64(r.Transferred))
	m.handled.WithLabelValues(kind, "skipped").Add(float64(r.Skipped))
	m.handled.WithLabelValues(kind, "failed").Add(float64(r.Failed))
}
