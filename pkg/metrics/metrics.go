// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "card_broker"

var (
	// TokenExchanges counts token endpoint calls by grant mode and outcome
	// (success or a failure kind).
	TokenExchanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_exchanges_total",
		Help:      "Client-credentials exchanges against the upstream token endpoint.",
	}, []string{"mode", "outcome"})

	// TokenExchangeDuration observes token endpoint latency in seconds.
	TokenExchangeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "token_exchange_duration_seconds",
		Help:      "Latency of token exchanges.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"mode"})

	// TokenCacheLookups counts cache hits, misses and invalidations.
	TokenCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_cache_lookups_total",
		Help:      "Token cache lookups by result.",
	}, []string{"result"})

	// ProxiedRequests counts proxied requests by resource and outcome.
	ProxiedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "proxied_requests_total",
		Help:      "Requests relayed to the upstream resource server.",
	}, []string{"resource", "outcome"})

	// UpstreamDuration observes resource call latency in seconds.
	UpstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "upstream_request_duration_seconds",
		Help:      "Latency of upstream resource calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"resource"})
)

// Outcome label values besides the failure kinds.
const (
	OutcomeSuccess = "success"

	CacheHit         = "hit"
	CacheMiss        = "miss"
	CacheInvalidated = "invalidated"
)
