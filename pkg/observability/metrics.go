package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "appbridge"

// Metrics groups the collectors for one controller. Each Metrics owns its
// registry so concurrent controllers never share counters.
type Metrics struct {
	Registry *prometheus.Registry

	DiscoveryAttempts *prometheus.CounterVec
	Executions        *prometheus.CounterVec
	ExecutionLatency  prometheus.Histogram
	LogRecords        *prometheus.CounterVec
	ActiveSessions    prometheus.Gauge
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		DiscoveryAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "discovery_attempts_total",
				Help:      "Candidate binary paths checked, by outcome reason.",
			},
			[]string{"reason"},
		),
		Executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Remote executions by outcome.",
			},
			[]string{"outcome"},
		),
		ExecutionLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Round-trip latency of remote executions.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
			},
		),
		LogRecords: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "log_records_total",
				Help:      "Captured log records by source and disposition.",
			},
			[]string{"source", "disposition"},
		),
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Live sessions owned by the controller.",
			},
		),
	}
}
