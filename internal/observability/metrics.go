package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the service.
type Metrics struct {
	TransitionsTotal   *prometheus.CounterVec
	SweepDuration      *prometheus.HistogramVec
	SweepSelectedTotal *prometheus.CounterVec
	SideEffectFailures *prometheus.CounterVec
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	ErrorsTotal        *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticketbot_transitions_total",
				Help: "Lifecycle transitions attempted, by transition and result code.",
			},
			[]string{"transition", "result"},
		),
		SweepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ticketbot_sweep_duration_seconds",
				Help:    "Duration of one sweep tick across all communities.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"sweep"},
		),
		SweepSelectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticketbot_sweep_selected_total",
				Help: "Tickets selected by sweep cutoff queries.",
			},
			[]string{"sweep"},
		),
		SideEffectFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticketbot_side_effect_failures_total",
				Help: "Post-commit side effects that failed, by step.",
			},
			[]string{"step"},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticketbot_http_requests_total",
				Help: "HTTP requests by route, method and status.",
			},
			[]string{"path", "method", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ticketbot_http_request_duration_seconds",
				Help:    "HTTP request latency by route and method.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticketbot_http_errors_total",
				Help: "HTTP error responses by route, method and error code.",
			},
			[]string{"path", "method", "code"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.TransitionsTotal,
		m.SweepDuration,
		m.SweepSelectedTotal,
		m.SideEffectFailures,
		m.RequestsTotal,
		m.RequestDuration,
		m.ErrorsTotal,
	)
	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordTransition counts one lifecycle transition attempt.
func (m *Metrics) RecordTransition(transition, result string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(transition, result).Inc()
}

// ObserveSweep records a finished sweep tick.
func (m *Metrics) ObserveSweep(sweep string, d time.Duration, selected int) {
	if m == nil {
		return
	}
	m.SweepDuration.WithLabelValues(sweep).Observe(d.Seconds())
	m.SweepSelectedTotal.WithLabelValues(sweep).Add(float64(selected))
}

// RecordSideEffectFailure counts a failed post-close step.
func (m *Metrics) RecordSideEffectFailure(step string) {
	if m == nil {
		return
	}
	m.SideEffectFailures.WithLabelValues(step).Inc()
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(path, method, code).Inc()
}
