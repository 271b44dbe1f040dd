// Package prometheus implements the teacher's metrics.RegisterXMetricsConstructor
// pattern for dbr's engine.Metrics interface: importing this package for
// its side effect (the init() below) wires Prometheus collectors into
// every engine instance metrics.NewEngineMetrics constructs.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dbroker/dbr/pkg/backend/redis/engine"
	"github.com/dbroker/dbr/pkg/metrics"
	"github.com/dbroker/dbr/pkg/tuplestore"
)

func init() {
	metrics.RegisterEngineMetricsConstructor(func() engine.Metrics {
		return newEngineMetrics(metrics.GetRegistry())
	})
}

// engineMetrics is the Prometheus implementation of engine.Metrics.
type engineMetrics struct {
	submitted  *prometheus.CounterVec
	completed  *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	redirects  *prometheus.CounterVec
	connFailed prometheus.Counter
	connUp     prometheus.Counter
}

// newEngineMetrics registers every collector against reg, so tests can
// pass an isolated prometheus.NewRegistry() instead of the process-wide
// singleton.
func newEngineMetrics(reg *prometheus.Registry) *engineMetrics {
	return &engineMetrics{
		submitted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbr_requests_submitted_total",
				Help: "Total number of requests submitted to the engine, by opcode.",
			},
			[]string{"opcode"},
		),
		completed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbr_requests_completed_total",
				Help: "Total number of requests completed, by opcode and status.",
			},
			[]string{"opcode", "status"},
		),
		latency: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dbr_request_duration_milliseconds",
				Help: "Request completion latency in milliseconds, by opcode.",
				Buckets: []float64{
					0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 5000,
				},
			},
			[]string{"opcode"},
		),
		redirects: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbr_redirects_total",
				Help: "Total number of cluster redirects followed, by kind (moved/ask).",
			},
			[]string{"kind"},
		),
		connFailed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dbr_connections_failed_total",
				Help: "Total number of backend connections marked failed.",
			},
		),
		connUp: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dbr_connections_recovered_total",
				Help: "Total number of backend connections recovered after failure.",
			},
		),
	}
}

func (m *engineMetrics) RequestSubmitted(op tuplestore.Opcode) {
	m.submitted.WithLabelValues(op.String()).Inc()
}

func (m *engineMetrics) RequestCompleted(op tuplestore.Opcode, status tuplestore.Status, elapsed time.Duration) {
	m.completed.WithLabelValues(op.String(), status.String()).Inc()
	m.latency.WithLabelValues(op.String()).Observe(float64(elapsed.Microseconds()) / 1000)
}

func (m *engineMetrics) RedirectHandled(permanent bool) {
	kind := "ask"
	if permanent {
		kind = "moved"
	}
	m.redirects.WithLabelValues(kind).Inc()
}

func (m *engineMetrics) ConnectionFailed() {
	m.connFailed.Inc()
}

func (m *engineMetrics) ConnectionRecovered() {
	m.connUp.Inc()
}
