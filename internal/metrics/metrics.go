// Package metrics exposes the service's Prometheus collectors on a private
// registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Conversion outcomes used as the "outcome" label.
const (
	OutcomeSuccess         = "success"
	OutcomeBadRequest      = "bad_request"
	OutcomeAllocation      = "allocation_failed"
	OutcomeExecutionFailed = "execution_failed"
	OutcomeTimeout         = "timeout"
	OutcomeError           = "error"
)

// Sweep names used as the "sweep" label.
const (
	SweepReaper  = "reaper"
	SweepJanitor = "janitor"
)

// Collector holds all service metrics.
type Collector struct {
	conversions        *prometheus.CounterVec
	conversionDuration prometheus.Histogram
	inFlight           prometheus.Gauge

	reaped         prometheus.Counter
	reaperFailures prometheus.Counter

	janitorDeleted  prometheus.Counter
	janitorFailures prometheus.Counter

	sweepDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a collector registered on a fresh registry.
func New(namespace string) *Collector {
	if namespace == "" {
		namespace = "scorebridge"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.conversions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_total",
			Help:      "Total number of conversion requests by outcome",
		},
		[]string{"outcome"},
	)
	c.conversionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversion_duration_seconds",
			Help:      "Wall time of converter runs",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)
	c.inFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversions_in_flight",
			Help:      "Conversions currently running",
		},
	)

	c.reaped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaper_reaped_total",
			Help:      "Total number of runaway converter processes reclaimed",
		},
	)
	c.reaperFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaper_failures_total",
			Help:      "Total number of reaper termination failures",
		},
	)

	c.janitorDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "janitor_deleted_total",
			Help:      "Total number of stale workspaces removed",
		},
	)
	c.janitorFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "janitor_failures_total",
			Help:      "Total number of workspaces the janitor failed to remove",
		},
	)

	c.sweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of background sweeps",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"sweep"},
	)

	c.registry.MustRegister(
		c.conversions,
		c.conversionDuration,
		c.inFlight,
		c.reaped,
		c.reaperFailures,
		c.janitorDeleted,
		c.janitorFailures,
		c.sweepDuration,
	)

	return c
}

// ConversionStarted marks a conversion as in flight. The returned func
// records the outcome and must be called exactly once.
func (c *Collector) ConversionStarted() func(outcome string) {
	c.inFlight.Inc()
	start := time.Now()
	return func(outcome string) {
		c.inFlight.Dec()
		c.conversions.WithLabelValues(outcome).Inc()
		if outcome == OutcomeSuccess || outcome == OutcomeExecutionFailed || outcome == OutcomeTimeout {
			c.conversionDuration.Observe(time.Since(start).Seconds())
		}
	}
}

// ConversionRejected counts a request refused before any work started.
func (c *Collector) ConversionRejected(outcome string) {
	c.conversions.WithLabelValues(outcome).Inc()
}

// ReaperSwept records one reaper sweep.
func (c *Collector) ReaperSwept(reaped, failed int, d time.Duration) {
	c.reaped.Add(float64(reaped))
	c.reaperFailures.Add(float64(failed))
	c.sweepDuration.WithLabelValues(SweepReaper).Observe(d.Seconds())
}

// JanitorSwept records one janitor sweep.
func (c *Collector) JanitorSwept(deleted, failed int, d time.Duration) {
	c.janitorDeleted.Add(float64(deleted))
	c.janitorFailures.Add(float64(failed))
	c.sweepDuration.WithLabelValues(SweepJanitor).Observe(d.Seconds())
}

// Registry returns the Prometheus registry for HTTP handler setup
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
