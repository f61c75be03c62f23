// file: internal/metrics/metrics.go
// version: 1.1.0
// guid: 0a1b2c3d-4e5f-6a7b-8c9d-0e1f2a3b4c5e

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	requestsStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfd_gateway",
		Name:      "requests_started_total",
		Help:      "Total number of gateway calls attempted by method",
	}, []string{"method"})
	requestsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfd_gateway",
		Name:      "requests_completed_total",
		Help:      "Total number of gateway calls completed successfully by method",
	}, []string{"method"})
	requestsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfd_gateway",
		Name:      "requests_failed_total",
		Help:      "Total number of gateway calls failed by method and error kind",
	}, []string{"method", "kind"})
	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sfd_gateway",
		Name:      "request_duration_seconds",
		Help:      "Histogram of gateway call durations in seconds by method",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms up to ~20s
	}, []string{"method"})

	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sfd_gateway",
		Name:      "cache_hits_total",
		Help:      "Total number of GET calls served from the TTL cache",
	})
	cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sfd_gateway",
		Name:      "cache_misses_total",
		Help:      "Total number of GET calls that went to the network",
	})
	cacheEntriesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sfd_gateway",
		Name:      "cache_entries",
		Help:      "Current total number of cached entries across namespaces",
	})

	tokenRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfd_gateway",
		Name:      "token_refreshes_total",
		Help:      "Total number of context token refreshes by outcome",
	}, []string{"outcome"})

	rateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfd_gateway",
		Name:      "rate_limited_total",
		Help:      "Total number of daemon requests rejected by the per-SFD rate limiter",
	}, []string{"sfd"})
)

// Register initializes metrics with the global Prometheus registry (idempotent)
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(requestsStarted, requestsCompleted, requestsFailed, requestDuration,
			cacheHits, cacheMisses, cacheEntriesGauge, tokenRefreshes, rateLimited)
	})
}

// Request lifecycle helpers
func IncRequestStarted(method string)   { requestsStarted.WithLabelValues(method).Inc() }
func IncRequestCompleted(method string) { requestsCompleted.WithLabelValues(method).Inc() }
func IncRequestFailed(method, kind string) {
	requestsFailed.WithLabelValues(method, kind).Inc()
}
func ObserveRequestDuration(method string, d time.Duration) {
	requestDuration.WithLabelValues(method).Observe(d.Seconds())
}

// Cache helpers
func IncCacheHit()            { cacheHits.Inc() }
func IncCacheMiss()           { cacheMisses.Inc() }
func SetCacheEntries(n int)   { cacheEntriesGauge.Set(float64(n)) }

// Token helpers
func IncTokenRefresh(outcome string) { tokenRefreshes.WithLabelValues(outcome).Inc() }

// Rate-limit helpers
func IncRateLimited(sfd string) { rateLimited.WithLabelValues(sfd).Inc() }
