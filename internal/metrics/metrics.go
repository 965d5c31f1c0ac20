// Package metrics collects repair-run counters on a private Prometheus
// registry and writes them in the node-exporter textfile format.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the run collectors. A nil *Metrics ignores every call.
type Metrics struct {
	registry   *prometheus.Registry
	items      *prometheus.CounterVec
	iterations prometheus.Histogram
	failures   *prometheus.CounterVec
	stages     *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		items: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mender_items_total",
			Help: "Items processed, by terminal status.",
		}, []string{"status"}),
		iterations: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mender_iterations",
			Help:    "Repair iterations consumed per item.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mender_failures_total",
			Help: "Recoverable failures observed during validation, by kind.",
		}, []string{"kind"}),
		stages: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mender_stage_duration_seconds",
			Help:    "Time spent in each controller stage.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"stage"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveItem records one finished item.
func (m *Metrics) ObserveItem(status string, iterations int) {
	if m == nil {
		return
	}
	m.items.WithLabelValues(status).Inc()
	m.iterations.Observe(float64(iterations))
}

// Failure counts one recoverable failure.
func (m *Metrics) Failure(kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(kind).Inc()
}

// ObserveStage records how long one stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.WithLabelValues(stage).Observe(d.Seconds())
}

// WriteTextfile writes the current values to path.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
