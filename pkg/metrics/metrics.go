// Package metrics exposes Prometheus collectors for the query gateway and the
// result cache. Everything registers on the default registry and is served by
// promhttp from the HTTP layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gateway query instrumentation, labeled by operation
// ("unique_user_ids" or "daily_histogram") and outcome ("ok" or "error").
var (
	GatewayQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cohortview",
		Subsystem: "gateway",
		Name:      "queries_total",
		Help:      "Aggregation queries issued to the event store.",
	}, []string{"operation", "status"})

	GatewayQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cohortview",
		Subsystem: "gateway",
		Name:      "query_duration_seconds",
		Help:      "Latency of event store aggregation queries.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

// Cache instrumentation, labeled by operation.
var (
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cohortview",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Query results served from the TTL cache.",
	}, []string{"operation"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cohortview",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Query results that had to be recomputed.",
	}, []string{"operation"})
)
