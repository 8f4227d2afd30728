// Package metrics exposes Prometheus collectors for gateway operations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector counts gateway operations by outcome and records their latency.
type Collector struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewCollector creates the collectors and registers them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fileservice",
			Subsystem: "gateway",
			Name:      "operations_total",
			Help:      "Gateway operations by operation and outcome (ok or error kind).",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fileservice",
			Subsystem: "gateway",
			Name:      "operation_duration_seconds",
			Help:      "Gateway operation latency, including time spent in the storage backend.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	reg.MustRegister(c.operations, c.duration)
	return c
}

// Observe records one finished operation.
func (c *Collector) Observe(op, outcome string, elapsed time.Duration) {
	c.operations.WithLabelValues(op, outcome).Inc()
	c.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
