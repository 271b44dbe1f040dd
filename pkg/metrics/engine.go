package metrics

import "github.com/dbroker/dbr/pkg/backend/redis/engine"

// NewEngineMetrics returns a Prometheus-backed engine.Metrics, or nil if
// metrics are not enabled (InitRegistry was never called). Engine treats
// a nil Metrics the same as an explicit no-op implementation, so callers
// can pass this straight through regardless of whether metrics are on.
func NewEngineMetrics() engine.Metrics {
	if !IsEnabled() || newPrometheusEngineMetrics == nil {
		return nil
	}
	return newPrometheusEngineMetrics()
}

// newPrometheusEngineMetrics is populated by pkg/metrics/prometheus's
// init(), breaking the import cycle metrics<->prometheus would otherwise
// create.
var newPrometheusEngineMetrics func() engine.Metrics

// RegisterEngineMetricsConstructor is called by
// pkg/metrics/prometheus/engine.go's init() to install the concrete
// constructor.
func RegisterEngineMetricsConstructor(constructor func() engine.Metrics) {
	newPrometheusEngineMetrics = constructor
}
