package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// All metrics are low-cardinality (no camera_id/anomaly_id labels)

var (
	// EventsReceivedTotal counts push events by kind
	EventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vms_monitor_events_received_total",
			Help: "Total push events received by kind",
		},
		[]string{"kind"},
	)

	// EventsDroppedTotal counts push events rejected by the dispatcher
	EventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vms_monitor_events_dropped_total",
			Help: "Total push events dropped by kind and reason",
		},
		[]string{"kind", "reason"},
	)

	HandlerPanicsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vms_monitor_handler_panics_total",
			Help: "Subscriber handlers that panicked, by event kind",
		},
		[]string{"kind"},
	)

	// ConnectionState is 1 for the current live channel state, 0 otherwise
	ConnectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vms_monitor_connection_state",
			Help: "Live channel state (1=current)",
		},
		[]string{"state"},
	)

	ConnectAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vms_monitor_connect_attempts_total",
			Help: "Live channel handshake attempts by result",
		},
		[]string{"result"},
	)

	// SnapshotFetchTotal counts REST snapshot fetches
	SnapshotFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vms_monitor_snapshot_fetch_total",
			Help: "Snapshot fetches by kind and result",
		},
		[]string{"kind", "result"},
	)

	SnapshotFetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vms_monitor_snapshot_fetch_latency_ms",
			Help:    "Snapshot fetch latency in milliseconds",
			Buckets: []float64{25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"kind"},
	)

	// CacheLookupsTotal counts cache reads; result is hit, miss, expired, version or corrupt
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vms_monitor_cache_lookups_total",
			Help: "Resource cache lookups by result",
		},
		[]string{"result"},
	)

	RelayPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vms_monitor_relay_publish_total",
			Help: "Events relayed to NATS by result",
		},
		[]string{"result"},
	)

	// StatusRequestsTotal counts status surface requests by route pattern
	StatusRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vms_monitor_status_requests_total",
			Help: "Status server requests by route and status class",
		},
		[]string{"route", "code"},
	)
)

// Helper functions for metrics recording

func RecordEvent(kind string) {
	EventsReceivedTotal.WithLabelValues(kind).Inc()
}

func RecordDrop(kind, reason string) {
	EventsDroppedTotal.WithLabelValues(kind, reason).Inc()
}

func RecordHandlerPanic(kind string) {
	HandlerPanicsTotal.WithLabelValues(kind).Inc()
}

func RecordConnectAttempt(ok bool) {
	if ok {
		ConnectAttemptsTotal.WithLabelValues("success").Inc()
	} else {
		ConnectAttemptsTotal.WithLabelValues("failure").Inc()
	}
}

// SetConnectionState marks current as the only active state among all.
func SetConnectionState(current string, all []string) {
	for _, s := range all {
		if s == current {
			ConnectionState.WithLabelValues(s).Set(1)
		} else {
			ConnectionState.WithLabelValues(s).Set(0)
		}
	}
}

func RecordFetch(kind string, ok bool, latencyMs float64) {
	result := "success"
	if !ok {
		result = "failure"
	}
	SnapshotFetchTotal.WithLabelValues(kind, result).Inc()
	SnapshotFetchLatency.WithLabelValues(kind).Observe(latencyMs)
}

func RecordDiscardedFetch(kind string) {
	SnapshotFetchTotal.WithLabelValues(kind, "discarded").Inc()
}

func RecordCacheLookup(result string) {
	CacheLookupsTotal.WithLabelValues(result).Inc()
}

func RecordRelayPublish(ok bool) {
	if ok {
		RelayPublishTotal.WithLabelValues("success").Inc()
	} else {
		RelayPublishTotal.WithLabelValues("failure").Inc()
	}
}

func RecordStatusRequest(route string, status int) {
	StatusRequestsTotal.WithLabelValues(route, fmt.Sprintf("%dxx", status/100)).Inc()
}
