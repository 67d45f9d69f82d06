package moecache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type promTimer struct {
	h     prometheus.Observer
	start time.Time
}

func (t *promTimer) ObserveDuration() {
	t.h.Observe(time.Since(t.start).Seconds())
}

var defaultBuckets = []float64{
	.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5,
}

type promMetrics struct {
	duration    *prometheus.HistogramVec
	results     *prometheus.CounterVec
	connections *prometheus.CounterVec
}

// NewPrometheusMetrics registers the client collectors on reg.
func NewPrometheusMetrics(reg prometheus.Registerer) Metrics {
	m := &promMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "moecache_operation_duration_seconds",
			Help:    "Client operation latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"op"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moecache_operations_total",
			Help: "Total number of client operations by result",
		}, []string{"op", "result"}),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moecache_connections_total",
			Help: "Total number of connections established",
		}, []string{"endpoint"}),
	}
	reg.MustRegister(m.duration, m.results, m.connections)
	return m
}

func (m *promMetrics) OperationDuration(op string) Timer {
	return &promTimer{h: m.duration.WithLabelValues(op), start: time.Now()}
}

func (m *promMetrics) OperationResult(op, result string) {
	m.results.WithLabelValues(op, result).Inc()
}

func (m *promMetrics) Connected(endpoint string) {
	m.connections.WithLabelValues(endpoint).Inc()
}
