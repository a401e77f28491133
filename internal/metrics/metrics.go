// Package metrics provides Prometheus metrics for the runbox service.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds all Prometheus metric collectors.
type Metrics struct {
	// HTTP
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Executions
	ExecutionsTotal    *prometheus.CounterVec
	ExecutionDuration  *prometheus.HistogramVec
	ExecutionsInFlight prometheus.Gauge
}

// Get returns the singleton Metrics instance.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	m := &Metrics{}

	m.HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "runbox",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by endpoint, method, and status code",
		},
		[]string{"endpoint", "method", "status"},
	)

	m.HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "runbox",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "method"},
	)

	m.HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "runbox",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)

	m.ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "runbox",
			Subsystem: "exec",
			Name:      "executions_total",
			Help:      "Total number of code executions by language and outcome",
		},
		[]string{"language", "outcome"},
	)

	m.ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "runbox",
			Subsystem: "exec",
			Name:      "execution_duration_seconds",
			Help:      "Wall-clock execution duration in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"language"},
	)

	m.ExecutionsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "runbox",
			Subsystem: "exec",
			Name:      "executions_in_flight",
			Help:      "Current number of running executions",
		},
	)

	return m
}

// RecordExecution records one finished execution.
func (m *Metrics) RecordExecution(language, outcome string, wallMs int64) {
	m.ExecutionsTotal.WithLabelValues(language, outcome).Inc()
	m.ExecutionDuration.WithLabelValues(language).Observe(float64(wallMs) / 1000)
}
