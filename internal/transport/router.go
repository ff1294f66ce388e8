// Package transport assembles the HTTP surface this relay exposes: the
// downstream client-sync RPC endpoint, the content-addressed file server,
// a WebSocket feed of sync-engine progress events, Prometheus metrics, and
// generated API docs — behind one shared middleware chain (spec §6).
package transport

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/mscatalog/catalogrelay/internal/catalog/clientsync"
	"github.com/mscatalog/catalogrelay/internal/realtime"
	"github.com/mscatalog/catalogrelay/internal/transport/clientsyncrpc"
	"github.com/mscatalog/catalogrelay/internal/transport/contenthttp"
	"github.com/mscatalog/catalogrelay/internal/transport/middleware"
	"github.com/mscatalog/catalogrelay/internal/transport/wsevents"
	"github.com/mscatalog/catalogrelay/pkg/metrics"
)

// Config wires every dependency the HTTP surface needs.
type Config struct {
	ClientSync *clientsync.Service
	EventBus   realtime.EventBus

	ContentBaseDir     string
	ContentMaxRPS      float64
	ContentHTTPMetrics *metrics.HTTPMetrics

	ClientSyncMetrics *metrics.ClientSyncMetrics

	Logger *slog.Logger
}

// NewRouter builds the full mux.Router.
//
// Middleware order (matches the teacher's api.NewRouter):
//  1. RequestID
//  2. Logging
//  3. route-specific metrics, applied per-surface below since each surface
//     uses its own Prometheus namespace (content vs. client-sync RPC).
func NewRouter(cfg Config) *mux.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logging(logger))

	if cfg.ClientSync != nil {
		rpc := clientsyncrpc.New(cfg.ClientSync, cfg.ClientSyncMetrics, logger)
		router.PathPrefix("/ClientWebService").Handler(rpc.Routes())
	}

	if cfg.ContentBaseDir != "" {
		content := contenthttp.New(cfg.ContentBaseDir, cfg.ContentMaxRPS, cfg.ContentHTTPMetrics, logger)
		router.PathPrefix("/microsoftupdate/content").Handler(content.Routes())
	}

	if cfg.EventBus != nil {
		ws := wsevents.New(cfg.EventBus, logger)
		router.Handle("/ws/events", ws).Methods(http.MethodGet)
	}

	router.PathPrefix("/docs").Handler(httpSwagger.WrapHandler)

	return router
}
