// Package observe exports test steps to Prometheus and OpenTelemetry.
//
// Both exporters are steplog listeners; add them to a scope (or through
// Director.WithListener) next to the recorder:
//
//	d := dolly.NewDirector(t, driver).
//		WithListener("metrics", observe.NewMetricsListener(prometheus.DefaultRegisterer)).
//		WithListener("tracing", observe.NewTracingListener(otel.Tracer("dolly"))).
//		Start()
package observe

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/teranos/dolly/steplog"
)

const namespace = "dolly"

// MetricsListener counts committed steps and observes their duration.
type MetricsListener struct {
	steps    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetricsListener registers its collectors with reg. Registering twice
// with the same registerer reuses the collectors already there, so one
// listener per test is fine.
func NewMetricsListener(reg prometheus.Registerer) *MetricsListener {
	m := &MetricsListener{
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Number of committed test steps.",
		}, []string{"source", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Time from the start of a test step to its commit.",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
	}
	m.steps = register(reg, m.steps)
	m.duration = register(reg, m.duration)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *MetricsListener) Name() string { return "metrics" }

func (m *MetricsListener) BeforeEvent(*steplog.Event) {}

func (m *MetricsListener) AfterEvent(e *steplog.Event) {
	m.steps.WithLabelValues(e.Source, e.Status.String()).Inc()
	m.duration.WithLabelValues(e.Source).Observe(e.Duration().Seconds())
}
