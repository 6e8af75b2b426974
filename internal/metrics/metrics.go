package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "search",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 20},
	}, []string{"method", "path"})

	UpstreamRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "upstream_requests_total",
		Help:      "Total requests to upstream APIs by upstream name and result status.",
	}, []string{"upstream", "status"})

	UpstreamRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "search",
		Name:      "upstream_request_duration_seconds",
		Help:      "Upstream request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"upstream"})

	UpstreamAvailable = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "search",
		Name:      "upstream_available",
		Help:      "Whether an upstream is considered healthy (1) or failing repeatedly (0).",
	}, []string{"upstream"})

	UpstreamRateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "upstream_rate_limited_total",
		Help:      "Total upstream responses classified as rate limited.",
	}, []string{"upstream"})

	NormalizerDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "normalizer_dropped_records_total",
		Help:      "Malformed upstream records dropped during normalization.",
	}, []string{"mode"})

	PagesMergedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "pages_merged_total",
		Help:      "Result pages applied to sessions by merge outcome.",
	}, []string{"outcome"})

	CoverageCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "coverage_cache_hits_total",
		Help:      "Total number of coverage cache hits.",
	})

	CoverageCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "coverage_cache_misses_total",
		Help:      "Total number of coverage cache misses.",
	})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "search",
		Name:      "active_sessions",
		Help:      "Number of live search sessions.",
	})

	ClickEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "click_events_total",
		Help:      "Click telemetry events by sink and delivery status.",
	}, []string{"sink", "status"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		UpstreamRequestsTotal,
		UpstreamRequestDuration,
		UpstreamAvailable,
		UpstreamRateLimitedTotal,
		NormalizerDroppedTotal,
		PagesMergedTotal,
		CoverageCacheHitsTotal,
		CoverageCacheMissesTotal,
		ActiveSessions,
		ClickEventsTotal,
	)
}
