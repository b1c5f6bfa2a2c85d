// Package prometheus implements the pkg/metrics interfaces with
// client_golang collectors. Import it for its side effect of registering
// the constructors.
package prometheus

import (
	"time"

	"github.com/marmos91/hostd/pkg/metrics"
	"github.com/marmos91/hostd/pkg/runtime/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func init() {
	metrics.RegisterRuntimeMetricsConstructor(func() metrics.RuntimeMetrics {
		return NewRuntimeMetrics()
	})
}

type runtimeMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	modules    *prometheus.GaugeVec
	services   *prometheus.GaugeVec
	queueDepth prometheus.Gauge
	process    *prometheus.GaugeVec
}

// NewRuntimeMetrics creates the runtime collectors on the active registry.
// It returns nil when metrics are disabled.
func NewRuntimeMetrics() *runtimeMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	return &runtimeMetrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "hostd_operations_total",
				Help: "Orchestrator operations by name and result",
			},
			[]string{"op", "result"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "hostd_operation_duration_milliseconds",
				Help: "Orchestrator operation latency in milliseconds",
				Buckets: []float64{
					1,     // status queries
					10,    // service transitions
					100,   // hook-heavy starts
					1000,  // module install + verify
					10000, // large bundles
				},
			},
			[]string{"op"},
		),
		modules: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hostd_modules",
				Help: "Registered modules by state",
			},
			[]string{"state"},
		),
		services: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hostd_services",
				Help: "Registered services by state",
			},
			[]string{"state"},
		),
		queueDepth: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "hostd_request_queue_depth",
			Help: "Pending daemon loop requests",
		}),
		process: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hostd_process_state",
				Help: "1 for the current process state, 0 otherwise",
			},
			[]string{"state"},
		),
	}
}

func (m *runtimeMetrics) ObserveOperation(op, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(float64(d.Microseconds()) / 1000.0)
}

func (m *runtimeMetrics) SetModuleStates(counts map[string]int) {
	if m == nil {
		return
	}
	for _, s := range []models.ModuleState{models.ModuleRegistered, models.ModuleLoaded} {
		m.modules.WithLabelValues(string(s)).Set(float64(counts[string(s)]))
	}
}

func (m *runtimeMetrics) SetServiceStates(counts map[string]int) {
	if m == nil {
		return
	}
	for _, s := range []models.ServiceState{models.ServiceRegistered, models.ServiceLoaded, models.ServiceRunning} {
		m.services.WithLabelValues(string(s)).Set(float64(counts[string(s)]))
	}
}

func (m *runtimeMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *runtimeMetrics) SetProcessState(state string) {
	if m == nil {
		return
	}
	for _, s := range []models.ProcessState{models.ProcessConfigured, models.ProcessRunning, models.ProcessStopped} {
		v := 0.0
		if string(s) == state {
			v = 1
		}
		m.process.WithLabelValues(string(s)).Set(v)
	}
}
