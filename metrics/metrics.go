// Package metrics defines the Prometheus collectors of cluster clients and
// of in-process test nodes. Collectors are registered with the default
// registry, and served at /debug/metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Status label values.
const (
	Fail = "fail"
	Ok   = "ok"
)

// Collectors of cluster clients.
var (
	ClientRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlcluster_client_requests_total",
		Help: "Cumulative number of requests sent to cluster nodes, by request type and status.",
	}, []string{"type", "status"})
	ClientRequestSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sqlcluster_client_request_seconds",
		Help:    "Round-trip latency of requests sent to cluster nodes, by request type.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
	}, []string{"type"})
	ClientDialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlcluster_client_dials_total",
		Help: "Cumulative number of session dials, by status.",
	}, []string{"status"})
	LeaderResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlcluster_leader_resolutions_total",
		Help: "Cumulative number of leader resolutions, by status.",
	}, []string{"status"})
	LeaderCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlcluster_leader_cache_total",
		Help: "Cumulative number of leader cache lookups, by result (hit, miss, invalidate).",
	}, []string{"result"})
	StatementRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlcluster_statement_retries_total",
		Help: "Cumulative number of statement lifecycle retries, by failed step.",
	}, []string{"step"})
)

// Collectors of in-process test nodes.
var (
	NodeRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlcluster_node_requests_total",
		Help: "Cumulative number of requests served by test nodes, by request type and response type.",
	}, []string{"type", "response"})
	NodeSessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sqlcluster_node_sessions_total",
		Help: "Cumulative number of client sessions accepted by test nodes.",
	})
)

// Leader cache result label values.
const (
	CacheHit        = "hit"
	CacheMiss       = "miss"
	CacheInvalidate = "invalidate"
)
