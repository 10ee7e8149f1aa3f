// Package metrics exposes Prometheus collectors for marketplace decisions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fentz26/agora/internal/models"
)

// Collector owns a private registry so tests and multiple daemons never
// collide on the global one. A nil *Collector records nothing.
type Collector struct {
	registry *prometheus.Registry

	bids          *prometheus.CounterVec
	utility       prometheus.Histogram
	assignments   *prometheus.CounterVec
	coverage      prometheus.Histogram
	transitions   *prometheus.CounterVec
	learning      *prometheus.CounterVec
	execDuration  *prometheus.HistogramVec
	execRetries   *prometheus.CounterVec
	activeWorkers prometheus.Gauge
}

// NewCollector creates and registers all collectors.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		bids: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agora_bids_total",
				Help: "Bid decisions by outcome",
			},
			[]string{"decision"},
		),
		utility: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agora_bid_utility",
				Help:    "Utility scores of evaluated bids",
				Buckets: prometheus.LinearBuckets(0, 10, 11),
			},
		),
		assignments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agora_assignments_total",
				Help: "Task assignments by mode",
			},
			[]string{"mode"},
		),
		coverage: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agora_team_coverage_ratio",
				Help:    "Required capability coverage of selected teams",
				Buckets: prometheus.LinearBuckets(0, 0.25, 5),
			},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agora_task_transitions_total",
				Help: "Task status transitions by target status",
			},
			[]string{"status"},
		),
		learning: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agora_learning_events_total",
				Help: "Learning event applications by result",
			},
			[]string{"result"},
		),
		execDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agora_execution_duration_seconds",
				Help:    "Execution oracle latency",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"executor", "outcome"},
		),
		execRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agora_execution_retries_total",
				Help: "Transient execution failures scheduled for retry",
			},
			[]string{"executor"},
		),
		activeWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "agora_scheduler_active_workers",
				Help: "Executions currently in flight",
			},
		),
	}

	c.registry.MustRegister(
		c.bids, c.utility, c.assignments, c.coverage, c.transitions,
		c.learning, c.execDuration, c.execRetries, c.activeWorkers,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordBid counts a bid decision and observes its utility.
func (c *Collector) RecordBid(b models.Bid) {
	if c == nil {
		return
	}
	decision := "rejected"
	if b.Submit {
		decision = "submitted"
	}
	c.bids.WithLabelValues(decision).Inc()
	c.utility.Observe(b.Utility)
}

// RecordAssignment counts a persisted assignment.
func (c *Collector) RecordAssignment(ta models.TeamAssignment) {
	if c == nil {
		return
	}
	c.assignments.WithLabelValues(string(ta.Mode)).Inc()
	c.coverage.Observe(ta.CoverageRatio)
}

// RecordTransition counts a task status change.
func (c *Collector) RecordTransition(to models.TaskStatus) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(string(to)).Inc()
}

// RecordLearning counts a learning application: applied, conflict or error.
func (c *Collector) RecordLearning(result string) {
	if c == nil {
		return
	}
	c.learning.WithLabelValues(result).Inc()
}

// ObserveExecution records an oracle call.
func (c *Collector) ObserveExecution(executor, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.execDuration.WithLabelValues(executor, outcome).Observe(d.Seconds())
}

// RecordRetry counts a transient failure that will be retried.
func (c *Collector) RecordRetry(executor string) {
	if c == nil {
		return
	}
	c.execRetries.WithLabelValues(executor).Inc()
}

// SetActiveWorkers reports the scheduler's in-flight executions.
func (c *Collector) SetActiveWorkers(n int) {
	if c == nil {
		return
	}
	c.activeWorkers.Set(float64(n))
}
