package migration

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics wraps Prometheus metrics for the migration executor.
type Metrics struct {
	registry *prometheus.Registry

	Runs       *prometheus.CounterVec
	Operations *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
}

// NewMetrics creates migration metrics on their own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plugindb",
			Name:      "migration_runs_total",
			Help:      "Total number of migration runs",
		}, []string{"plugin", "status"}),
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plugindb",
			Name:      "migration_operations_total",
			Help:      "Total number of DDL operations applied",
		}, []string{"plugin", "type"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "plugindb",
			Name:      "migration_duration_seconds",
			Help:      "Duration of migration runs in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"plugin"}),
	}

	reg.MustRegister(m.Runs)
	reg.MustRegister(m.Operations)
	reg.MustRegister(m.Duration)

	return m
}

// Registry returns the metrics registry for exposition.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
