package remoterpc

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type rpcMetrics struct {
	calls     *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

var (
	rpcMetricsOnce sync.Once
	rpcMetricsInst *rpcMetrics
)

func globalRPCMetrics() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcMetricsInst = &rpcMetrics{
			calls: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tickettransfer",
				Subsystem: "remoterpc",
				Name:      "calls_total",
				Help:      "Remote JSON-RPC calls, labeled by operation and result",
			}, []string{"operation", "result"}),
			durations: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "tickettransfer",
				Subsystem: "remoterpc",
				Name:      "call_duration_seconds",
				Help:      "Duration of remote JSON-RPC calls",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
		}
	})
	return rpcMetricsInst
}

// observe starts timing an operation; the returned func records the result.
func (m *rpcMetrics) observe(operation string) func(result string) {
	if m == nil {
		return func(string) {}
	}
	timer := prometheus.NewTimer(m.durations.WithLabelValues(operation))
	return func(result string) {
		timer.ObserveDuration()
		m.calls.WithLabelValues(operation, result).Inc()
	}
}
