package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwbudde/pixelmatch/internal/match"
)

// Comparison outcomes used as the "outcome" label.
const (
	outcomeIdentical = "identical"
	outcomeDifferent = "different"
	outcomeError     = "error"
)

// Metrics holds the service's Prometheus collectors on a private registry.
type Metrics struct {
	registry    *prometheus.Registry
	comparisons *prometheus.CounterVec
	mismatched  prometheus.Histogram
	duration    prometheus.Histogram
	inFlight    prometheus.Gauge
}

// NewMetrics registers the comparison collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		comparisons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelmatch_comparisons_total",
			Help: "Image comparisons by outcome.",
		}, []string{"outcome"}),
		mismatched: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pixelmatch_mismatched_pixels",
			Help:    "Mismatched pixels per successful comparison.",
			Buckets: prometheus.ExponentialBuckets(1, 10, 8),
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pixelmatch_comparison_duration_seconds",
			Help:    "Time spent decoding and comparing one image pair.",
			Buckets: prometheus.DefBuckets,
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pixelmatch_comparisons_in_flight",
			Help: "Comparisons currently holding a worker slot.",
		}),
	}
	m.registry.MustRegister(m.comparisons, m.mismatched, m.duration, m.inFlight)
	return m
}

// observe records one finished comparison. err != nil counts as an error.
func (m *Metrics) observe(stats match.Stats, elapsed time.Duration, err error) {
	m.duration.Observe(elapsed.Seconds())
	switch {
	case err != nil:
		m.comparisons.WithLabelValues(outcomeError).Inc()
	case stats.Mismatched == 0:
		m.comparisons.WithLabelValues(outcomeIdentical).Inc()
		m.mismatched.Observe(0)
	default:
		m.comparisons.WithLabelValues(outcomeDifferent).Inc()
		m.mismatched.Observe(float64(stats.Mismatched))
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
