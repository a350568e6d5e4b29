package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics is an optional Prometheus sink for the engine, modeled on
// ai/metrics.PrometheusExporter in the teacher repo: a handful of
// counters/gauges registered against a caller-supplied registry, with every
// method nil-safe so a Runner without metrics configured pays nothing.
type Metrics struct {
	iterationsRun      prometheus.Counter
	operationsStepped  prometheus.Counter
	deadlocksDetected  prometheus.Counter
	panicsCaught       prometheus.Counter
	schedulesRemaining prometheus.Gauge
}

// MetricsConfig configures NewMetrics.
type MetricsConfig struct {
	// Registry to register collectors against. If nil, collectors are
	// created but never registered (useful for tests).
	Registry  *prometheus.Registry
	Namespace string
}

// NewMetrics constructs a Metrics sink and registers it against cfg.Registry.
func NewMetrics(cfg MetricsConfig) *Metrics {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "parcheck"
	}

	m := &Metrics{
		iterationsRun: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "iterations_run_total",
			Help: "Number of schedule iterations executed.",
		}),
		operationsStepped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "operations_stepped_total",
			Help: "Number of operations granted a permit and stepped forward.",
		}),
		deadlocksDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "deadlocks_detected_total",
			Help: "Number of iterations where assert_finished found an unfinished task.",
		}),
		panicsCaught: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "panics_caught_total",
			Help: "Number of user-body panics caught and re-raised with a replay hint.",
		}),
		schedulesRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "schedules_remaining",
			Help: "Number of unvisited schedule-tree leaf paths after the most recent iteration.",
		}),
	}

	if cfg.Registry != nil {
		cfg.Registry.MustRegister(
			m.iterationsRun,
			m.operationsStepped,
			m.deadlocksDetected,
			m.panicsCaught,
			m.schedulesRemaining,
		)
	}
	return m
}

// IncIterationsRun records one completed schedule iteration. Exported so the
// root-package Runner can drive it across the package boundary.
func (m *Metrics) IncIterationsRun() {
	if m == nil {
		return
	}
	m.iterationsRun.Inc()
}

func (m *Metrics) incOperationsStepped() {
	if m == nil {
		return
	}
	m.operationsStepped.Inc()
}

func (m *Metrics) incDeadlocksDetected() {
	if m == nil {
		return
	}
	m.deadlocksDetected.Inc()
}

// IncPanicsCaught records one user-body panic caught and re-raised with a
// replay hint. Exported for the same reason as IncIterationsRun.
func (m *Metrics) IncPanicsCaught() {
	if m == nil {
		return
	}
	m.panicsCaught.Inc()
}

// SetSchedulesRemaining records how many schedule-tree leaf paths remain
// unvisited after the most recent iteration. Exported for the same reason as
// IncIterationsRun.
func (m *Metrics) SetSchedulesRemaining(n int) {
	if m == nil {
		return
	}
	m.schedulesRemaining.Set(float64(n))
}
