// Package metrics exposes dbr's Prometheus registry behind the same
// enable/disable indirection the teacher uses for its cache/badger/s3
// metrics (pkg/metrics/cache.go's constructor-registration trick): this
// package never imports a concrete Prometheus client type, so
// pkg/metrics/prometheus can register constructors here without either
// package importing the other.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	registry *prometheus.Registry
	enabled  bool
)

// InitRegistry enables metrics collection and creates the process-wide
// registry every collector registers against. Calling it more than once
// is a no-op beyond the first call.
func InitRegistry() *prometheus.Registry {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	enabled = true
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return enabled
}

// GetRegistry returns the process-wide registry, initializing it first
// if necessary.
func GetRegistry() *prometheus.Registry {
	if registry == nil {
		return InitRegistry()
	}
	return registry
}

// reset is test-only: it clears registry/enabled so each test gets an
// isolated registry rather than accumulating collectors across cases.
func reset() {
	registry = nil
	enabled = false
}
