package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ClientSyncMetrics contains metrics for the downstream client-sync protocol (C9)
// and the driver matcher (C7).
type ClientSyncMetrics struct {
	// HTTP embeds the generic HTTP request metrics for the client-sync RPC surface.
	HTTP *HTTPMetrics

	// LayerHitsTotal counts which layer (root/non-leaf/bundle/leaf/driver) produced
	// the offered batch for a SyncUpdates call.
	LayerHitsTotal *prometheus.CounterVec

	// TruncatedResponsesTotal counts SyncUpdates responses that hit the N=50 cap.
	TruncatedResponsesTotal prometheus.Counter

	// DriverMatchDurationSeconds tracks driver-matcher ranking latency.
	DriverMatchDurationSeconds prometheus.Histogram

	// DriverMatchesTotal counts driver match outcomes.
	DriverMatchesTotal *prometheus.CounterVec
}

// NewClientSyncMetrics creates client-sync and driver-matcher metrics.
func NewClientSyncMetrics(namespace string) *ClientSyncMetrics {
	return &ClientSyncMetrics{
		HTTP: NewHTTPMetricsWithNamespace(namespace, "clientsync_http"),
		LayerHitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "clientsync",
				Name:      "layer_hits_total",
				Help:      "Total number of SyncUpdates responses served from each layer",
			},
			[]string{"layer"}, // layer: root|non_leaf|bundle|leaf|driver|empty
		),
		TruncatedResponsesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "clientsync",
				Name:      "truncated_responses_total",
				Help:      "Total number of SyncUpdates responses marked truncated",
			},
		),
		DriverMatchDurationSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "clientsync",
				Name:      "driver_match_duration_seconds",
				Help:      "Duration of ranking driver candidates for one device request",
				Buckets:   prometheus.DefBuckets,
			},
		),
		DriverMatchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "clientsync",
				Name:      "driver_matches_total",
				Help:      "Total number of driver match outcomes, by result",
			},
			[]string{"result"}, // result: matched|rejected|suppressed_installed
		),
	}
}
