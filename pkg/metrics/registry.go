// Package metrics provides centralized metrics management for the catalog relay.
//
// This package implements a unified taxonomy for Prometheus metrics:
//   - Sync metrics: upstream fetch batches, retries, auth exchanges
//   - ClientSync metrics: HTTP requests, layer offerings, driver matches
//   - Infrastructure metrics: database, cache, metadata store
//
// All metrics follow the naming convention:
// catalogrelay_<category>_<subsystem>_<metric_name>_<unit>
//
// Example:
//
//	registry := metrics.DefaultRegistry()
//	registry.Sync().BatchesFetchedTotal.WithLabelValues("success").Inc()
//	registry.Infra().DB.ConnectionsActive.Set(42)
package metrics

import (
	"fmt"
	"strings"
	"sync"
)

// MetricCategory represents the category of a metric.
type MetricCategory string

const (
	// CategorySync represents upstream sync engine metrics (fetch, retry, auth)
	CategorySync MetricCategory = "sync"

	// CategoryClientSync represents downstream client-sync metrics (HTTP, layers, drivers)
	CategoryClientSync MetricCategory = "clientsync"

	// CategoryInfra represents infrastructure metrics (database, cache, store)
	CategoryInfra MetricCategory = "infra"
)

// MetricsRegistry is the central registry for all Prometheus metrics.
// Provides organized access to metrics by category (Sync, ClientSync, Infra).
//
// This is a simplified registry design (vs. full validation/map approach)
// for better maintainability and performance.
//
// Usage:
//
//	registry := metrics.DefaultRegistry()
//	registry.Sync().BatchesFetchedTotal.WithLabelValues("success").Inc()
//
// Thread-safe: All Prometheus metrics are thread-safe by design.
// Singleton: Use DefaultRegistry() to get the global instance.
type MetricsRegistry struct {
	namespace string

	// Category managers (lazy-initialized)
	sync       *SyncMetrics
	clientSync *ClientSyncMetrics
	infra      *InfraMetrics

	// Separate sync.Once for each category for true lazy initialization
	syncOnce       sync.Once
	clientSyncOnce sync.Once
	infraOnce      sync.Once
}

var (
	// Global singleton registry instance
	defaultRegistry     *MetricsRegistry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the global singleton MetricsRegistry.
// Safe for concurrent use. Initialized once on first call.
//
// Example:
//
//	registry := metrics.DefaultRegistry()
//	registry.Infra().DB.ConnectionsActive.Set(10)
func DefaultRegistry() *MetricsRegistry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewMetricsRegistry("catalogrelay")
	})
	return defaultRegistry
}

// NewMetricsRegistry creates a new MetricsRegistry with the specified namespace.
// For most use cases, use DefaultRegistry() instead of calling this directly.
//
// Parameters:
//   - namespace: The Prometheus namespace for all metrics (typically "catalogrelay")
//
// Returns:
//   - *MetricsRegistry: A new registry instance
func NewMetricsRegistry(namespace string) *MetricsRegistry {
	if namespace == "" {
		namespace = "catalogrelay"
	}

	return &MetricsRegistry{
		namespace: namespace,
	}
}

// Sync returns the upstream sync engine metrics manager.
// Lazy-initialized on first access.
//
// Sync metrics include:
//   - Batch fetches (attempted, succeeded, failed)
//   - Auth exchanges (cookie issued, re-auth forced)
//   - Anchor commits
//
// Example:
//
//	registry.Sync().BatchesFetchedTotal.WithLabelValues("success").Inc()
func (r *MetricsRegistry) Sync() *SyncMetrics {
	r.syncOnce.Do(func() {
		r.sync = NewSyncMetrics(r.namespace)
	})
	return r.sync
}

// ClientSync returns the downstream client-sync metrics manager.
// Lazy-initialized on first access.
//
// ClientSync metrics include:
//   - HTTP requests (count, duration, size)
//   - Layer offerings (root/non-leaf/bundle/leaf hit counts)
//   - Driver match outcomes
//
// Example:
//
//	handler := registry.ClientSync().HTTP.Middleware(mux)
//	registry.ClientSync().LayerHitsTotal.WithLabelValues("root").Inc()
func (r *MetricsRegistry) ClientSync() *ClientSyncMetrics {
	r.clientSyncOnce.Do(func() {
		r.clientSync = NewClientSyncMetrics(r.namespace)
	})
	return r.clientSync
}

// Infra returns the Infrastructure metrics manager.
// Lazy-initialized on first access.
//
// Infrastructure metrics include:
//   - Database (connections, queries, errors)
//   - Cache (hits, misses, evictions)
//   - Store (query duration, errors, results)
//
// Example:
//
//	registry.Infra().DB.ConnectionsActive.Set(42)
//	registry.Infra().Store.QueryDurationSeconds.WithLabelValues("GetRevisionIdList", "success").Observe(0.05)
func (r *MetricsRegistry) Infra() *InfraMetrics {
	r.infraOnce.Do(func() {
		r.infra = NewInfraMetrics(r.namespace)
	})
	return r.infra
}

// Namespace returns the configured namespace for this registry.
//
// Returns:
//   - string: The Prometheus namespace (e.g., "catalogrelay")
func (r *MetricsRegistry) Namespace() string {
	return r.namespace
}

// ValidateMetricName validates a metric name against naming conventions.
//
// Naming convention:
// <namespace>_<category>_<subsystem>_<metric_name>_<unit>
//
// Examples:
// ✅ catalogrelay_sync_batches_fetched_total
// ✅ catalogrelay_clientsync_http_request_duration_seconds
// ✅ catalogrelay_infra_db_connections_active
// ❌ batches_fetched (missing namespace)
//
// Only the namespace prefix and the presence of a category segment followed
// by a name are checked; the category value and the unit suffix are not.
//
// Parameters:
//   - name: The metric name to validate
//
// Returns:
//   - error: nil if valid, error describing the problem otherwise
func (r *MetricsRegistry) ValidateMetricName(name string) error {
	prefix := r.namespace + "_"
	if !strings.HasPrefix(name, prefix) {
		return fmt.Errorf("metric name %q: missing namespace prefix %q", name, prefix)
	}
	category, metric, ok := strings.Cut(strings.TrimPrefix(name, prefix), "_")
	if !ok || category == "" || metric == "" {
		return fmt.Errorf("metric name %q: expected %s<category>_<name>", name, prefix)
	}
	return nil
}
