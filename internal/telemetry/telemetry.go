// Package telemetry holds the Prometheus collectors the pipeline reports into.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wager"

// Metrics is a private registry with the engine's collectors. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	artifacts     *prometheus.CounterVec   // stage, outcome (written/skipped/failed/pruned)
	stageDuration *prometheus.HistogramVec // stage
	windows       *prometheus.GaugeVec     // interval, state (produced/selected)
	flagged       *prometheus.CounterVec   // detector
	verdicts      *prometheus.CounterVec   // verdict
}

// New creates the registry with Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: reg}
	m.artifacts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "artifacts_total",
		Help:      "Artifacts handled per stage and outcome",
	}, []string{"stage", "outcome"})
	m.stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Wall time of a pipeline stage",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{"stage"})
	m.windows = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "windows",
		Help:      "Windows per interval, produced by chunking or selected for analysis",
	}, []string{"interval", "state"})
	m.flagged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "strategy_flags_total",
		Help:      "Counterparties flagged per strategy detector",
	}, []string{"detector"})
	m.verdicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rolling_verdicts_total",
		Help:      "Rolling analysis verdicts",
	}, []string{"verdict"})

	reg.MustRegister(m.artifacts, m.stageDuration, m.windows, m.flagged, m.verdicts)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry, for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Artifact counts one artifact outcome of a stage.
func (m *Metrics) Artifact(stage, outcome string) {
	if m == nil {
		return
	}
	m.artifacts.WithLabelValues(stage, outcome).Inc()
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Windows sets the number of windows of an interval in a state.
func (m *Metrics) Windows(interval, state string, n int) {
	if m == nil {
		return
	}
	m.windows.WithLabelValues(interval, state).Set(float64(n))
}

// Flagged counts a detector flag.
func (m *Metrics) Flagged(detector string) {
	if m == nil {
		return
	}
	m.flagged.WithLabelValues(detector).Inc()
}

// Verdict counts a rolling analysis verdict.
func (m *Metrics) Verdict(v string) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(v).Inc()
}
