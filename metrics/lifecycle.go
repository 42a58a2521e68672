// Package metrics collects lifecycle metrics for one application context on
// a dedicated prometheus registry. Nothing is registered on the prometheus
// default registerer, so contexts never collide on metric names.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lcx/keel/plugin"
)

// Collector observes plugin lifecycle phases and bootstrap steps. It
// implements plugin.PhaseObserver.
type Collector struct {
	registry *prometheus.Registry

	phaseDuration *prometheus.HistogramVec
	phaseFailures *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	stepFailures  *prometheus.CounterVec
}

// NewCollector creates a collector whose series carry the owning context's
// id as a constant label.
func NewCollector(contextID string) *Collector {
	constLabels := prometheus.Labels{"context": contextID}
	c := &Collector{
		registry: prometheus.NewRegistry(),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "keel",
			Subsystem:   "plugin",
			Name:        "phase_duration_seconds",
			Help:        "Duration of plugin lifecycle hook invocations.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"plugin", "phase"}),
		phaseFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "keel",
			Subsystem:   "plugin",
			Name:        "phase_failures_total",
			Help:        "Failed plugin lifecycle hook invocations.",
			ConstLabels: constLabels,
		}, []string{"plugin", "phase"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "keel",
			Subsystem:   "bootstrap",
			Name:        "step_duration_seconds",
			Help:        "Duration of bootstrap steps.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"step"}),
		stepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "keel",
			Subsystem:   "bootstrap",
			Name:        "step_failures_total",
			Help:        "Failed bootstrap steps.",
			ConstLabels: constLabels,
		}, []string{"step"}),
	}
	c.registry.MustRegister(c.phaseDuration, c.phaseFailures, c.stepDuration, c.stepFailures)
	return c
}

// Registry exposes the collector's prometheus registry for scraping.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObservePhase records one plugin lifecycle hook invocation.
func (c *Collector) ObservePhase(name string, phase plugin.Phase, elapsed time.Duration, err error) {
	c.phaseDuration.WithLabelValues(name, string(phase)).Observe(elapsed.Seconds())
	if err != nil {
		c.phaseFailures.WithLabelValues(name, string(phase)).Inc()
	}
}

// ObserveStep records one bootstrap step.
func (c *Collector) ObserveStep(step string, elapsed time.Duration, err error) {
	c.stepDuration.WithLabelValues(step).Observe(elapsed.Seconds())
	if err != nil {
		c.stepFailures.WithLabelValues(step).Inc()
	}
}
