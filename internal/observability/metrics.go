// Package observability provides metrics and tracing.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FanoutSubscriptions is the number of live change-feed subscriptions held by fanout controllers.
	FanoutSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roadcrew_fanout_subscriptions",
		Help: "Number of live change feed subscriptions held by fanout controllers",
	})

	// FanoutResubscribes counts subscription rebuilds by outcome.
	FanoutResubscribes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roadcrew_fanout_resubscribes_total",
		Help: "Total number of fanout subscription rebuilds",
	}, []string{"outcome"})

	// FanoutSetupFailures counts failed subscription establishment attempts.
	FanoutSetupFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roadcrew_fanout_setup_failures_total",
		Help: "Total number of failed change feed subscription attempts",
	})

	// FanoutRefreshes counts refreshes triggered by the fanout controller.
	FanoutRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roadcrew_fanout_refreshes_total",
		Help: "Total number of refreshes triggered by change events",
	}, []string{"kind"})

	// ChangefeedEvents counts change events by table, type and direction.
	ChangefeedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roadcrew_changefeed_events_total",
		Help: "Total number of change feed events",
	}, []string{"table", "type", "direction"})

	// ChangefeedDrops counts events dropped before reaching a subscriber.
	ChangefeedDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roadcrew_changefeed_drops_total",
		Help: "Total number of change feed events dropped",
	}, []string{"backend", "reason"})

	// ChangefeedBreakerState reports the publish circuit breaker state (0 closed, 1 half-open, 2 open).
	ChangefeedBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roadcrew_changefeed_breaker_state",
		Help: "Change feed publish circuit breaker state",
	})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roadcrew_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})

	// WebSocketEventsTotal counts WebSocket events by type.
	WebSocketEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roadcrew_websocket_events_total",
		Help: "Total WebSocket events by type",
	}, []string{"event_type"})

	// CacheLookups counts cache-aside lookups by result.
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roadcrew_cache_lookups_total",
		Help: "Total cache lookups by key family and result",
	}, []string{"family", "result"})
)
