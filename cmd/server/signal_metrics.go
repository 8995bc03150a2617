package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SignalPrometheusMetrics tracks SIGHUP-triggered environment resets.
type SignalPrometheusMetrics struct {
	resetTotal    *prometheus.CounterVec
	resetDuration prometheus.Histogram

	lastSuccessTimestamp prometheus.Gauge
	lastFailureTimestamp prometheus.Gauge
}

// NewSignalPrometheusMetrics registers the reset collectors.
func NewSignalPrometheusMetrics() *SignalPrometheusMetrics {
	namespace := "kernel"
	subsystem := "reset"

	return &SignalPrometheusMetrics{
		resetTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "total",
				Help:      "Total number of SIGHUP-triggered environment resets, by outcome.",
			},
			[]string{"status"},
		),
		resetDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "duration_seconds",
				Help:      "Duration of a SIGHUP-triggered environment reset.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.2, 0.3, 0.5, 1.0, 2.0, 5.0},
			},
		),
		lastSuccessTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix timestamp of the last successful environment reset.",
		}),
		lastFailureTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "last_failure_timestamp_seconds",
			Help:      "Unix timestamp of the last failed environment reset.",
		}),
	}
}

func (m *SignalPrometheusMetrics) RecordResetAttempt(status string) {
	m.resetTotal.WithLabelValues(status).Inc()
}

func (m *SignalPrometheusMetrics) RecordResetDuration(duration float64) {
	m.resetDuration.Observe(duration)
}

func (m *SignalPrometheusMetrics) RecordSuccessTimestamp(timestamp float64) {
	m.lastSuccessTimestamp.Set(timestamp)
}

func (m *SignalPrometheusMetrics) RecordFailureTimestamp(timestamp float64) {
	m.lastFailureTimestamp.Set(timestamp)
}
