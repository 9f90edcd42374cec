// Package metrics exposes Prometheus metrics for generation runs.
package metrics

import (
	"net/http"

	"github.com/dukex/deckflow/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one registry.
//
// Metrics:
//   - deckflow_stage_attempts_total{stage,outcome} - stage attempts by outcome
//   - deckflow_stage_duration_seconds{stage} - stage attempt wall time
//   - deckflow_runs_total{state} - finished runs by terminal state
//   - deckflow_run_duration_seconds - total run wall time
//   - deckflow_runs_in_flight - runs currently executing
//   - deckflow_http_rejections_total{reason} - requests turned away by the API
type Metrics struct {
	registry *prometheus.Registry

	StageAttempts  *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	Runs           *prometheus.CounterVec
	RunDuration    prometheus.Histogram
	RunsInFlight   prometheus.Gauge
	HTTPRejections *prometheus.CounterVec
}

// New registers the collectors on a fresh registry along with the Go runtime collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		StageAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deckflow_stage_attempts_total",
				Help: "Total number of stage attempts by outcome",
			},
			[]string{"stage", "outcome"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "deckflow_stage_duration_seconds",
				Help:    "Duration of stage attempts in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),
		Runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deckflow_runs_total",
				Help: "Total number of finished generation runs by terminal state",
			},
			[]string{"state"},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "deckflow_run_duration_seconds",
				Help:    "Duration of generation runs in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
		),
		RunsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "deckflow_runs_in_flight",
				Help: "Number of generation runs currently executing",
			},
		),
		HTTPRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deckflow_http_rejections_total",
				Help: "Requests rejected before reaching a handler",
			},
			[]string{"reason"},
		),
	}
}

func (m *Metrics) StageAttempt(stage models.StageName, outcome string, seconds float64) {
	m.StageAttempts.WithLabelValues(string(stage), outcome).Inc()
	m.StageDuration.WithLabelValues(string(stage)).Observe(seconds)
}

func (m *Metrics) RunStarted() {
	m.RunsInFlight.Inc()
}

func (m *Metrics) RunFinished(state models.ExecutionState, seconds float64) {
	m.RunsInFlight.Dec()
	m.Runs.WithLabelValues(string(state)).Inc()
	m.RunDuration.Observe(seconds)
}

// Rejected counts a request refused by middleware.
func (m *Metrics) Rejected(reason string) {
	m.HTTPRejections.WithLabelValues(reason).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
