package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"chronos/internal/models"
)

// Metrics holds the Prometheus metrics of the generation pipeline
type Metrics struct {
	// Run metrics
	Runs        *prometheus.CounterVec
	RunDuration prometheus.Histogram

	// Chunk metrics
	ChunkDuration prometheus.Histogram

	// Per-user outcomes
	Users *prometheus.CounterVec

	// Last successful run
	LastSuccess prometheus.Gauge
}

// InitMetrics registers the metrics on the default registry
func InitMetrics() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer)
}

// NewMetrics registers the metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Runs by outcome (counter - only goes up)
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chronos_generation_runs_total",
			Help: "Total number of generation runs by outcome",
		}, []string{"outcome"}),

		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chronos_generation_run_duration_seconds",
			Help:    "Generation run duration in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
		}),

		ChunkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chronos_generation_chunk_duration_seconds",
			Help:    "Generation chunk duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}),

		// Users by status; "failed" is the alerting signal for data that cannot be segmented
		Users: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chronos_generation_users_total",
			Help: "Total number of processed users by generation status",
		}, []string{"status"}),

		LastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chronos_generation_last_success_timestamp_seconds",
			Help: "Unix time of the last successful generation run",
		}),
	}
}

// RunFinished records a finished run
func (m *Metrics) RunFinished(outcome string, elapsed time.Duration) {
	m.Runs.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(elapsed.Seconds())
	if outcome == "succeed" {
		m.LastSuccess.SetToCurrentTime()
	}
}

// ChunkProcessed records a completed chunk
func (m *Metrics) ChunkProcessed(elapsed time.Duration) {
	m.ChunkDuration.Observe(elapsed.Seconds())
}

// UserProcessed records one user's outcome
func (m *Metrics) UserProcessed(status models.GenerationStatus) {
	m.Users.WithLabelValues(string(status)).Inc()
}
