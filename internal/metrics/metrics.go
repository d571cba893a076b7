// Package metrics registers the prometheus collectors shared across the
// aggregation core. Collectors are process-wide; tests exercise components
// without asserting on them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SearchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "findmycar_searches_total",
		Help: "Aggregated searches served, by outcome.",
	}, []string{"outcome"}) // hit, miss, error

	SearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "findmycar_search_duration_seconds",
		Help:    "End-to-end aggregated search latency.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
	})

	SourceRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "findmycar_source_requests_total",
		Help: "Upstream source calls, by source and status.",
	}, []string{"source", "status"}) // ok, partial, failed

	SourceLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "findmycar_source_latency_seconds",
		Help:    "Per-source search latency.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"source"})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "findmycar_cache_hits_total",
		Help: "Result cache hits by tier.",
	}, []string{"tier"})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "findmycar_cache_misses_total",
		Help: "Result cache misses.",
	})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "findmycar_breaker_state",
		Help: "Circuit state per source: 0 closed, 1 half-open, 2 open.",
	}, []string{"source"})

	RefreshQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "findmycar_refresh_queue_depth",
		Help: "Pending background refresh tasks.",
	})

	RefreshTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "findmycar_refresh_tasks_total",
		Help: "Background refresh task outcomes.",
	}, []string{"status"}) // updated, inactive, requeued, dropped, failed
)
