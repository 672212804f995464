package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsefit_client_requests_total",
			Help: "Gateway requests by HTTP method and outcome (success, error code, or cache_hit).",
		},
		[]string{"method", "outcome"},
	)

	RetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulsefit_client_retries_total",
			Help: "Retry attempts performed by the gateway backoff loop.",
		},
	)

	OfflineQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulsefit_client_offline_queue_depth",
			Help: "Requests currently queued while offline.",
		},
	)

	OfflineReplaysTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsefit_client_offline_replays_total",
			Help: "Offline queue replays by outcome.",
		},
		[]string{"outcome"},
	)

	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsefit_client_token_refreshes_total",
			Help: "Token refresh attempts by outcome.",
		},
		[]string{"outcome"},
	)

	RealtimeReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulsefit_client_realtime_reconnects_total",
			Help: "Reconnect attempts made by the realtime channel.",
		},
	)

	RealtimeOutboundQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulsefit_client_realtime_outbound_queue_depth",
			Help: "Events queued while the realtime channel is disconnected.",
		},
	)

	RealtimeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsefit_client_realtime_events_total",
			Help: "Realtime events by direction (inbound, outbound, queued, dropped).",
		},
		[]string{"direction"},
	)
)

// IncrementRequests records one gateway request outcome.
func IncrementRequests(method, outcome string) {
	RequestsTotal.WithLabelValues(method, outcome).Inc()
}

// SetOfflineQueueDepth updates the offline queue gauge.
func SetOfflineQueueDepth(depth int) {
	OfflineQueueDepth.Set(float64(depth))
}

// SetRealtimeOutboundQueueDepth updates the outbound queue gauge.
func SetRealtimeOutboundQueueDepth(depth int) {
	RealtimeOutboundQueueDepth.Set(float64(depth))
}
