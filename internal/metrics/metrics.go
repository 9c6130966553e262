package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "reposcout"

// Metrics holds all Prometheus collectors. Each instance owns its registry
// so tests and multiple engines never collide on the default registerer.
type Metrics struct {
	Registry *prometheus.Registry

	// Governor metrics
	GovernorCalls   *prometheus.CounterVec
	GovernorRetries *prometheus.CounterVec
	RateLimitWaits  *prometheus.CounterVec
	CircuitState    *prometheus.GaugeVec
	PlatformLatency *prometheus.HistogramVec

	// Coordinator metrics
	CacheLookups    *prometheus.CounterVec
	SearchDuration  prometheus.Histogram
	PlatformResults *prometheus.CounterVec

	// Cache store metrics
	CacheEvictions prometheus.Counter
}

// New creates and registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		GovernorCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "platform_calls_total",
				Help:      "Platform calls made through the governor, by outcome",
			},
			[]string{"platform", "op", "outcome"},
		),

		GovernorRetries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "platform_retries_total",
				Help:      "Retries scheduled by the governor",
			},
			[]string{"platform", "kind"},
		),

		RateLimitWaits: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_waits_total",
				Help:      "Calls that waited for an exhausted quota to reset",
			},
			[]string{"platform"},
		),

		CircuitState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Circuit breaker state per platform (0=closed, 1=half-open, 2=open)",
			},
			[]string{"platform"},
		),

		PlatformLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "platform_request_duration_seconds",
				Help:      "Latency of individual platform requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"platform", "op"},
		),

		CacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Coordinator cache lookups by result (hit, miss, stale, offline)",
			},
			[]string{"kind", "result"},
		),

		SearchDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_duration_seconds",
				Help:      "End-to-end duration of coordinated searches",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),

		PlatformResults: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "platform_results_total",
				Help:      "Per-platform outcome of fan-out searches",
			},
			[]string{"platform", "result"},
		),

		CacheEvictions: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_evictions_total",
				Help:      "Cache entries evicted to stay within the size budget",
			},
		),
	}
}

// WriteTextfile writes the current metric values in the text exposition
// format, for collection by a node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
