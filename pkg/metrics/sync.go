package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SyncMetrics contains metrics for the upstream sync engine (C4).
//
// Tracks batch fetch throughput, retry counts, auth exchanges, and anchor
// commits of the authenticated, anchored, batched fetch loop.
type SyncMetrics struct {
	BatchesFetchedTotal  *prometheus.CounterVec   // batches fetched, labeled by outcome
	RevisionsInsertedTotal prometheus.Counter     // decoded+inserted update revisions
	RetriesTotal         *prometheus.CounterVec   // failed GetUpdateData attempts; fault_kind is set to "get_update_data"
	AuthExchangesTotal   *prometheus.CounterVec   // access-cookie exchanges; all are recorded with path "full", GetCookie-only refreshes included
	AnchorCommitsTotal   *prometheus.CounterVec   // anchor commits labeled by filter kind
	FetchDurationSeconds *prometheus.HistogramVec // duration of one full sync invocation
}

// NewSyncMetrics creates upstream sync engine metrics.
func NewSyncMetrics(namespace string) *SyncMetrics {
	return &SyncMetrics{
		BatchesFetchedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "batches_fetched_total",
				Help:      "Total number of GetUpdateData batches fetched, by outcome",
			},
			[]string{"outcome"}, // outcome: success|failure
		),
		RevisionsInsertedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "revisions_inserted_total",
				Help:      "Total number of decoded update revisions inserted into the store",
			},
		),
		RetriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "retries_total",
				Help:      "Total number of retry attempts during the fetch loop, by fault kind",
			},
			[]string{"fault_kind"},
		),
		AuthExchangesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "auth_exchanges_total",
				Help:      "Total number of access-cookie exchanges, by path",
			},
			[]string{"path"}, // path: always "full"; GetCookie-only refreshes are not told apart
		),
		AnchorCommitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "anchor_commits_total",
				Help:      "Total number of delta anchors committed, by filter kind",
			},
			[]string{"filter_kind"}, // filter_kind: categories|updates
		),
		FetchDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "fetch_duration_seconds",
				Help:      "Duration of a full sync invocation in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"outcome"},
		),
	}
}
