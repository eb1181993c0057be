package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters and histograms for the flood pulse service.
type Metrics struct {
	// Telemetry metrics.
	TelemetryCache      *prometheus.CounterVec   // labels: kind={river,stations,rainfall}, result={hit,miss}
	TelemetryStale      *prometheus.CounterVec   // labels: kind, outcome={served,absent}
	UpstreamRequests    *prometheus.CounterVec   // labels: endpoint={latest,since,stations}, outcome={success,error}
	UpstreamAPIDuration *prometheus.HistogramVec // labels: endpoint

	// Road report metrics.
	Submissions     *prometheus.CounterVec // labels: outcome={accepted,rejected,rate_limited,failed}
	ConsensusQuery  *prometheus.CounterVec // labels: road, result={status,absent}
	StoreErrors     *prometheus.CounterVec // labels: operation
	PublishFailures prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()

	prometheus.MustRegister(
		m.TelemetryCache,
		m.TelemetryStale,
		m.UpstreamRequests,
		m.UpstreamAPIDuration,
		m.Submissions,
		m.ConsensusQuery,
		m.StoreErrors,
		m.PublishFailures,
	)

	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

// NewUnregisteredMetrics creates Metrics that are never exported, for
// one-shot commands with no /metrics endpoint.
func NewUnregisteredMetrics() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		TelemetryCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flood_pulse",
			Name:      "telemetry_cache_total",
			Help:      "Telemetry cache lookups by kind and result.",
		}, []string{"kind", "result"}),
		TelemetryStale: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flood_pulse",
			Name:      "telemetry_stale_fallback_total",
			Help:      "Upstream failures resolved from stale cache (served) or left empty (absent).",
		}, []string{"kind", "outcome"}),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flood_pulse",
			Name:      "upstream_requests_total",
			Help:      "Flood-monitoring API requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		UpstreamAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flood_pulse",
			Name:      "upstream_api_duration_seconds",
			Help:      "Flood-monitoring API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flood_pulse",
			Name:      "submissions_total",
			Help:      "Road observation submissions by outcome.",
		}, []string{"outcome"}),
		ConsensusQuery: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flood_pulse",
			Name:      "consensus_queries_total",
			Help:      "Consensus computations by road and whether a status was found.",
		}, []string{"road", "result"}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flood_pulse",
			Name:      "store_errors_total",
			Help:      "Observation store failures by operation.",
		}, []string{"operation"}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_pulse",
			Name:      "observation_publish_failures_total",
			Help:      "Accepted observations that could not be published downstream.",
		}),
	}
}
