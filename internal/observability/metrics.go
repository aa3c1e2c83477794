package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classroom_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// CommentMutations counts comment store mutations by operation and result.
	CommentMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classroom_comment_mutations_total",
		Help: "Total number of comment mutations by operation and result",
	}, []string{"operation", "result"})

	// IdentityLookupLatency records author lookup latency by source.
	IdentityLookupLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "classroom_identity_lookup_latency_seconds",
		Help:    "Identity lookup latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})

	// ActiveSubscriptions is the gauge of live comment subscriptions.
	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "classroom_comment_subscriptions_active",
		Help: "Number of active comment subscriptions",
	})

	// SnapshotsEmitted counts comment snapshots delivered to subscribers.
	SnapshotsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classroom_comment_snapshots_emitted_total",
		Help: "Total number of comment snapshots emitted to subscribers",
	})

	// RateLimitRejections counts requests refused by the write rate limiter.
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classroom_rate_limit_rejections_total",
		Help: "Total number of requests rejected by rate limiting",
	}, []string{"resource"})

	// WebSocketEventsTotal counts WebSocket events by type.
	WebSocketEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classroom_websocket_events_total",
		Help: "Total WebSocket events by type",
	}, []string{"event_type"})
)

// RecordMutation increments the mutation counter for operation and result.
func RecordMutation(operation string, result string) {
	CommentMutations.WithLabelValues(operation, result).Inc()
}

// TrackLookup returns a function that records lookup latency when called (e.g. defer).
func TrackLookup(source string) func() {
	start := time.Now()
	return func() {
		IdentityLookupLatency.WithLabelValues(source).Observe(time.Since(start).Seconds())
	}
}
