package metrics

import "time"

// RuntimeMetrics observes orchestrator activity.
//
// Pass nil to components to disable collection.
type RuntimeMetrics interface {
	// ObserveOperation records one public orchestrator operation.
	// result is "ok" or the lower-case error kind.
	ObserveOperation(op string, result string, duration time.Duration)

	// SetModuleStates replaces the module count per state.
	SetModuleStates(counts map[string]int)

	// SetServiceStates replaces the service count per state.
	SetServiceStates(counts map[string]int)

	// SetQueueDepth records the pending request count.
	SetQueueDepth(n int)

	// SetProcessState marks the current process state.
	SetProcessState(state string)
}

var newPrometheusRuntimeMetrics func() RuntimeMetrics

// RegisterRuntimeMetricsConstructor is called by pkg/metrics/prometheus
// during init.
func RegisterRuntimeMetricsConstructor(fn func() RuntimeMetrics) {
	newPrometheusRuntimeMetrics = fn
}

// NewRuntimeMetrics returns the Prometheus implementation, or nil when
// metrics are disabled or the implementation package is not linked in.
func NewRuntimeMetrics() RuntimeMetrics {
	if !IsEnabled() || newPrometheusRuntimeMetrics == nil {
		return nil
	}
	return newPrometheusRuntimeMetrics()
}
