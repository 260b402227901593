// Package metrics wires Prometheus collectors the way the teacher's
// go-server-3/internal/metrics package does: one Registry struct grouping
// related collectors, promauto registration, and an http.Handler for
// scraping. flare-im reuses this shape across all five binaries instead of
// inventing a new metrics idiom per service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry groups the Prometheus collectors for a single flare-im component.
// Components register only the counters/gauges relevant to their role by
// reading the fields they need; unused fields simply stay at zero.
type Registry struct {
	// Orchestrator (C4)
	MessagesIngested    prometheus.Counter
	PreSendRejected      prometheus.Counter
	PostSendFailed       prometheus.Counter
	SeqDegradedTotal     prometheus.Counter
	WALAppendFailures    prometheus.Counter
	PublishErrors        *prometheus.CounterVec // labeled by stream

	// Storage writer (C5)
	MessagesPersisted    prometheus.Counter
	MessagesDeduplicated prometheus.Counter
	StorageWriteErrors   *prometheus.CounterVec // labeled by tier
	ConversationLookupFallback prometheus.Counter

	// Router (C6)
	RouteResolveDuration *prometheus.HistogramVec // labeled by svid
	ShardDistribution    *prometheus.CounterVec    // labeled by shard
	FlowControlRejected  prometheus.Counter
	RouteDegraded        *prometheus.CounterVec // labeled by reason

	// Access Gateway (C7)
	ActiveConnections prometheus.Gauge
	FramesReceived    *prometheus.CounterVec // labeled by command
	PushWriteErrors   prometheus.Counter
	SubscriptionsActive prometheus.Gauge

	// Push pipeline (C8)
	PushAttempts     *prometheus.CounterVec // labeled by outcome
	PushRetries      prometheus.Counter
	PushDLQ          prometheus.Counter
	PendingPushGauge prometheus.Gauge
	AckTimeouts      prometheus.Counter
	GatewayPoolSize  prometheus.Gauge
}

// NewRegistry constructs and registers all collectors under the given
// service name prefix (e.g. "orchestrator", "storage_writer").
func NewRegistry(service string) *Registry {
	ns := "flare_im"
	sub := service

	return &Registry{
		MessagesIngested: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "messages_ingested_total",
			Help: "Total messages accepted by the orchestrator ingest contract",
		}),
		PreSendRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "presend_rejected_total",
			Help: "Total PreSend hook chain rejections",
		}),
		PostSendFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "postsend_failed_total",
			Help: "Total PostSend require_success hook failures",
		}),
		SeqDegradedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "seq_degraded_total",
			Help: "Total sequence allocations served in degraded mode",
		}),
		WALAppendFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "wal_append_failures_total",
			Help: "Total WAL append failures",
		}),
		PublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "publish_errors_total",
			Help: "Total stream publish errors by target stream",
		}, []string{"stream"}),

		MessagesPersisted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "messages_persisted_total",
			Help: "Total messages durably persisted",
		}),
		MessagesDeduplicated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "messages_deduplicated_total",
			Help: "Total messages short-circuited by idempotency",
		}),
		StorageWriteErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "storage_write_errors_total",
			Help: "Total tiered-store write errors by tier",
		}, []string{"tier"}),
		ConversationLookupFallback: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "conversation_lookup_fallback_total",
			Help: "Total conversation-service lookup degradations",
		}),

		RouteResolveDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub, Name: "route_resolve_duration_seconds",
			Help:    "Route resolution latency by SVID",
			Buckets: prometheus.DefBuckets,
		}, []string{"svid"}),
		ShardDistribution: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "shard_selection_total",
			Help: "Total route resolutions by selected shard",
		}, []string{"shard"}),
		FlowControlRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "flow_control_rejected_total",
			Help: "Total requests rejected by the flow controller",
		}),
		RouteDegraded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "route_degraded_total",
			Help: "Total route resolutions that fell back to a degraded selection",
		}, []string{"reason"}),

		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "connections_active",
			Help: "Active gateway connections",
		}),
		FramesReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "frames_received_total",
			Help: "Total client frames received by command",
		}, []string{"command"}),
		PushWriteErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "push_write_errors_total",
			Help: "Total frame write errors to connected clients",
		}),
		SubscriptionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "subscriptions_active",
			Help: "Active topic subscriptions",
		}),

		PushAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "push_attempts_total",
			Help: "Total push attempts by outcome",
		}, []string{"outcome"}),
		PushRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "push_retries_total",
			Help: "Total push retry attempts",
		}),
		PushDLQ: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "push_dlq_total",
			Help: "Total push tasks routed to the dead-letter queue",
		}),
		PendingPushGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "push_pending",
			Help: "Current pending push entries awaiting client ACK",
		}),
		AckTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "ack_timeouts_total",
			Help: "Total pending push entries that exceeded ack_timeout",
		}),
		GatewayPoolSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "gateway_pool_size",
			Help: "Current number of pooled gateway gRPC channels",
		}),
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
