// Package appwiring constructs the catalog relay's domain services
// (metadata store, sync engine, client-sync service, export service) from
// internal/config.Config, so every cmd/catalogrelay subcommand shares one
// construction path instead of re-deriving it.
package appwiring

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mscatalog/catalogrelay/internal/catalog/clientsync"
	"github.com/mscatalog/catalogrelay/internal/catalog/drivermatch"
	"github.com/mscatalog/catalogrelay/internal/catalog/export"
	"github.com/mscatalog/catalogrelay/internal/catalog/prereq"
	"github.com/mscatalog/catalogrelay/internal/catalog/query"
	"github.com/mscatalog/catalogrelay/internal/catalog/store"
	"github.com/mscatalog/catalogrelay/internal/catalog/syncengine"
	"github.com/mscatalog/catalogrelay/internal/catalog/syncengine/soapclient"
	"github.com/mscatalog/catalogrelay/internal/catalog/xmlcodec"
	"github.com/mscatalog/catalogrelay/internal/config"
	"github.com/mscatalog/catalogrelay/internal/infrastructure/k8sconfig"
	"github.com/mscatalog/catalogrelay/internal/realtime"
	"github.com/mscatalog/catalogrelay/pkg/metrics"
)

// OpenStore connects the configured store backend (spec §3's dual profile)
// via store.New, which also wraps it with a Redis anchor cache when one is
// configured. The caller only needs to defer st.Close(): store.CachedStore
// closes its Redis client alongside the backing store.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.MetadataStore, store.IndexReader, error) {
	st, idx, err := store.New(ctx, cfg, xmlcodec.Decode, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return st, idx, nil
}

// ResolveUpstream resolves the upstream root URL and account credentials,
// preferring a Kubernetes Secret when one is configured and falling back to
// the static config values otherwise.
func ResolveUpstream(ctx context.Context, cfg *config.Config, logger *slog.Logger) (rootURL, accountName, accountKey string, err error) {
	if cfg.Upstream.K8sSecretName == "" {
		return cfg.Upstream.RootURL, cfg.Upstream.AccountName, cfg.Upstream.AccountKey, nil
	}

	client, err := k8sconfig.NewK8sClient(&k8sconfig.K8sClientConfig{
		Timeout: cfg.Upstream.RequestTimeout,
		Logger:  logger,
	})
	if err != nil {
		return "", "", "", fmt.Errorf("build k8s client: %w", err)
	}
	defer client.Close()

	upstream, err := k8sconfig.ResolveUpstreamConfig(ctx, client, cfg.Upstream.K8sNamespace, cfg.Upstream.K8sSecretName)
	if err != nil {
		return "", "", "", err
	}
	return upstream.RootURL, upstream.AccountName, upstream.AccountKey, nil
}

// NewEngine builds a syncengine.Engine wired to st against the resolved
// upstream, publishing progress through bus. idx, when non-nil, lets the
// engine resolve category membership (spec §4.3) as it ingests; pass nil
// only for tests that don't exercise category resolution.
func NewEngine(ctx context.Context, cfg *config.Config, st store.MetadataStore, idx store.IndexReader, bus *realtime.DefaultEventBus, syncMetrics *metrics.SyncMetrics, logger *slog.Logger) (*syncengine.Engine, error) {
	rootURL, accountName, accountKey, err := ResolveUpstream(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("resolve upstream: %w", err)
	}
	if rootURL == "" {
		return nil, fmt.Errorf("upstream root url is empty")
	}

	soap := soapclient.New(rootURL, cfg.Upstream.RequestTimeout)
	auth := syncengine.NewAuthenticator(soap, accountName, accountKey, cfg.Upstream.CookieLifetime)

	var publisher *realtime.EventPublisher
	if bus != nil {
		publisher = realtime.NewEventPublisher(bus, logger, nil)
	}

	return syncengine.New(syncengine.Config{
		Soap:             soap,
		Auth:             auth,
		Store:            st,
		Index:            idx,
		BatchParallelism: cfg.Upstream.BatchParallelism,
		Publisher:        publisher,
		Metrics:          syncMetrics,
		Logger:           logger,
	}), nil
}

// NewClientSync builds the downstream client-sync service (spec §4.5/4.6).
func NewClientSync(st store.MetadataStore, idx store.IndexReader, cfg *config.Config, bus *realtime.DefaultEventBus, csMetrics *metrics.ClientSyncMetrics, logger *slog.Logger) (*clientsync.Service, error) {
	graph := prereq.New(st, idx)
	matcher, err := drivermatch.New(idx, graph, cfg.ClientSync.SessionCacheSize, csMetrics)
	if err != nil {
		return nil, fmt.Errorf("build driver matcher: %w", err)
	}

	var publisher *realtime.EventPublisher
	if bus != nil {
		publisher = realtime.NewEventPublisher(bus, logger, nil)
	}

	return clientsync.New(clientsync.Config{
		Store:            st,
		Index:            idx,
		Graph:            graph,
		Matcher:          matcher,
		Approval:         clientsync.AllowAll{},
		MaxPerResponse:   cfg.ClientSync.MaxUpdatesPerResponse,
		SessionCacheSize: cfg.ClientSync.SessionCacheSize,
		ContentRootURL:   cfg.Content.RootURL,
		Publisher:        publisher,
		Metrics:          csMetrics,
		Logger:           logger,
	})
}

// NewExport builds the offline bundle export service (spec §4.7).
func NewExport(st store.MetadataStore, idx store.IndexReader, logger *slog.Logger) *export.Service {
	q := query.New(st, idx)
	return export.New(st, idx, q, logger)
}
