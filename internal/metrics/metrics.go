// Trackgate - Resilient Client Access Layer for GPS Tracking Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackgate

// Package metrics provides Prometheus instrumentation for the request
// pipeline, cache, rate limiter, batcher, circuit breaker and push channel.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Request pipeline metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackgate_requests_total",
			Help: "Total number of pipeline requests by method, path and outcome",
		},
		[]string{"method", "path", "outcome"}, // outcome: success, error kind, or "cached"
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trackgate_request_duration_seconds",
			Help:    "End-to-end pipeline request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackgate_retry_attempts_total",
			Help: "Total number of retry attempts by path",
		},
		[]string{"path"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trackgate_cache_hits_total",
			Help: "Total number of response cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trackgate_cache_misses_total",
			Help: "Total number of response cache misses",
		},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackgate_cache_evictions_total",
			Help: "Total number of cache evictions by reason",
		},
		[]string{"reason"}, // "expired", "size", "manual", "corrupt"
	)

	CacheStaleServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trackgate_cache_stale_served_total",
			Help: "Total number of stale entries served as offline fallback",
		},
	)

	CacheSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trackgate_cache_size_bytes",
			Help: "Current total size of cached payloads in bytes",
		},
	)

	// Rate limiter metrics
	RateLimitAcquired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trackgate_ratelimit_acquired_total",
			Help: "Total number of granted rate limit permits",
		},
	)

	RateLimitRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trackgate_ratelimit_rejected_total",
			Help: "Total number of rejected admission requests",
		},
	)

	RateLimitQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trackgate_ratelimit_queue_depth",
			Help: "Current number of queued admission tickets",
		},
	)

	// Batcher metrics
	BatchFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackgate_batch_flushes_total",
			Help: "Total number of batch group flushes by trigger",
		},
		[]string{"trigger"}, // "size", "timer", "drain"
	)

	BatchGroupSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trackgate_batch_group_size",
			Help:    "Number of coalesced callers per flushed batch group",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trackgate_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackgate_circuit_breaker_requests_total",
			Help: "Total number of circuit breaker outcomes",
		},
		[]string{"result"}, // "success", "failure", "rejected"
	)

	// Push channel metrics
	PushChannelState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trackgate_push_channel_state",
			Help: "Push channel state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting, 4=error)",
		},
	)

	PushFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackgate_push_frames_total",
			Help: "Total number of push frames by decoded type",
		},
		[]string{"type"}, // "devices", "positions", "events", "malformed", "unknown"
	)

	PushReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trackgate_push_reconnects_total",
			Help: "Total number of push channel reconnection attempts",
		},
	)
)

// StatusLabel converts an HTTP status code to a metrics label value.
func StatusLabel(status int) string {
	return strconv.Itoa(status)
}
