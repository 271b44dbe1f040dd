package engine

import (
	"time"

	"github.com/dbroker/dbr/pkg/tuplestore"
)

// Metrics receives the engine's observability events. A nil Metrics on
// Config is replaced with a no-op implementation, following the teacher's
// interface-indirection pattern (pkg/metrics/cache.go's constructor hook):
// the engine package never imports a Prometheus client directly, so
// pkg/metrics/prometheus can depend on engine without a cycle.
type Metrics interface {
	RequestSubmitted(op tuplestore.Opcode)
	RequestCompleted(op tuplestore.Opcode, status tuplestore.Status, elapsed time.Duration)
	RedirectHandled(permanent bool)
	ConnectionFailed()
	ConnectionRecovered()
}

type noopMetrics struct{}

func (noopMetrics) RequestSubmitted(tuplestore.Opcode)                                  {}
func (noopMetrics) RequestCompleted(tuplestore.Opcode, tuplestore.Status, time.Duration) {}
func (noopMetrics) RedirectHandled(bool)                                                {}
func (noopMetrics) ConnectionFailed()                                                   {}
func (noopMetrics) ConnectionRecovered()                                                {}
