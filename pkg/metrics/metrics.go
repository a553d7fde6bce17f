// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RankingRunsTotal counts ranking computations.
	RankingRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranking_runs_total",
			Help: "Total ranking computations",
		},
		[]string{"kind", "source"},
	)

	// RankingDuration tracks how long a featured computation takes.
	RankingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ranking_duration_seconds",
			Help:    "Featured list computation duration",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"kind"},
	)

	// FeedLoadsTotal counts paged loads performed by sync feeds.
	FeedLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_loads_total",
			Help: "Total page loads performed by conversation and message feeds",
		},
		[]string{"feed", "mode", "status"},
	)

	// RealtimeEventsTotal counts change notifications delivered to feeds.
	RealtimeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_total",
			Help: "Change notifications received by feeds",
		},
		[]string{"table", "kind"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// CacheLookupsTotal tracks featured cache hits and misses.
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Featured list cache lookups",
		},
		[]string{"result"},
	)

	// MessagesTotal tracks total messages sent.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages sent",
		},
		[]string{"sender_type", "status"},
	)

	// SupportRepliesTotal tracks automatic support replies.
	SupportRepliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_replies_total",
			Help: "Automatic support replies by source",
		},
		[]string{"source"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordRanking records one featured computation.
func RecordRanking(kind, source string, duration float64) {
	RankingRunsTotal.WithLabelValues(kind, source).Inc()
	if source == "computed" {
		RankingDuration.WithLabelValues(kind).Observe(duration)
	}
}

// RecordFeedLoad records a feed page load.
func RecordFeedLoad(feed, mode string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	FeedLoadsTotal.WithLabelValues(feed, mode, status).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
