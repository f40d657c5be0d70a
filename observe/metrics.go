// Package observe connects task scopes to Prometheus metrics and
// OpenTelemetry tracing through the scope hooks.
package observe

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/baxromumarov/scoped/v2"
)

// Metrics records task lifecycle events as Prometheus series.
type Metrics struct {
	started    prometheus.Counter
	finished   *prometheus.CounterVec
	active     prometheus.Gauge
	duration   *prometheus.HistogramVec
	violations prometheus.Counter
}

// NewMetrics registers the task metrics with reg under namespace.
// It panics if the metrics are already registered with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		started: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_started_total",
			Help:      "Total tasks started",
		}),
		finished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Total tasks finished by outcome",
		}, []string{"outcome"}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_active",
			Help:      "Tasks currently running",
		}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task duration in seconds by outcome",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16), // 0.1ms to ~3s
		}, []string{"outcome"}),
		violations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "structure_violations_total",
			Help:      "Tasks that finished with a structure violation",
		}),
	}
}

// Observe records one task event.
func (m *Metrics) Observe(e scoped.TaskEvent) {
	if e.Kind == scoped.EventStarted {
		m.started.Inc()
		m.active.Inc()
		return
	}
	outcome := e.Kind.String()
	m.active.Dec()
	m.finished.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(e.Duration.Seconds())
	if errors.Is(e.Err, scoped.ErrStructureViolation) {
		m.violations.Inc()
	}
}

// Option returns a scope option feeding every task event to m.
func (m *Metrics) Option() scoped.Option {
	return scoped.WithOnEvent(m.Observe)
}
