// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP

var HTTPRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "movietn_http_requests_total",
		Help: "Total number of HTTP requests",
	},
	[]string{"method", "route", "status"},
)

var HTTPRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "movietn_http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	},
	[]string{"method", "route"},
)

var HTTPRequestsInFlight = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "movietn_http_requests_in_flight",
		Help: "Current number of HTTP requests being served",
	},
)

// Reviews and aggregates

// ReviewMutations counts review create/edit/delete attempts.
// Labels: kind (new, modified, deleted), outcome (ok, error).
var ReviewMutations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "movietn_review_mutations_total",
		Help: "Review mutations by kind and outcome",
	},
	[]string{"kind", "outcome"},
)

// AggregateRetries counts aggregate saves that lost a version race and were recomputed.
var AggregateRetries = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "movietn_aggregate_version_retries_total",
		Help: "Aggregate read-modify-write cycles retried after a version conflict",
	},
)

// Recommendations

// Recommendations counts answered recommendation requests by the tier that produced them.
var Recommendations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "movietn_recommendations_total",
		Help: "Recommendation requests by resolving tier",
	},
	[]string{"tier"},
)

// Ranking cache

var RankingCacheHits = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "movietn_ranking_cache_hits_total",
		Help: "Top-rated ranking reads served from cache",
	},
)

var RankingCacheMisses = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "movietn_ranking_cache_misses_total",
		Help: "Top-rated ranking reads that went to the database",
	},
)

// Events

var EventsPublished = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "movietn_review_events_published_total",
		Help: "Review events handed to the broker by outcome",
	},
	[]string{"type", "outcome"},
)
