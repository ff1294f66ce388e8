package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mscatalog/catalogrelay/internal/appwiring"
	"github.com/mscatalog/catalogrelay/internal/realtime"
	"github.com/mscatalog/catalogrelay/internal/transport"
	"github.com/mscatalog/catalogrelay/pkg/logger"
	"github.com/mscatalog/catalogrelay/pkg/metrics"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the downstream client-sync, content, and event HTTP surfaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logger.NewLogger(logger.Config(cfg.Log))

			ctx := context.Background()
			st, idx, err := appwiring.OpenStore(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer st.Close()

			bus := realtime.NewEventBus(log, realtime.NewRealtimeMetrics("catalogrelay"))
			if err := bus.Start(ctx); err != nil {
				return err
			}
			defer bus.Stop(ctx)

			csMetrics := metrics.NewClientSyncMetrics("catalogrelay")
			svc, err := appwiring.NewClientSync(st, idx, cfg, bus, csMetrics, log)
			if err != nil {
				return err
			}

			router := transport.NewRouter(transport.Config{
				ClientSync:         svc,
				EventBus:           bus,
				ContentBaseDir:     cfg.Content.BaseDir,
				ContentMaxRPS:      cfg.Content.MaxRequestsPerSecond,
				ContentHTTPMetrics: metrics.NewHTTPMetricsWithNamespace("catalogrelay", "content_http"),
				ClientSyncMetrics:  csMetrics,
				Logger:             log,
			})

			if cfg.Metrics.Enabled {
				router.Handle(cfg.Metrics.Path, csMetrics.HTTP.Handler())
			}

			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			srv := &http.Server{
				Addr:         addr,
				Handler:      router,
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
				IdleTimeout:  cfg.Server.IdleTimeout,
			}

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

			go func() {
				log.Info("http server starting", "addr", addr)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("http server failed", "error", err)
					os.Exit(1)
				}
			}()

			<-quit
			log.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("graceful shutdown: %w", err)
			}
			log.Info("server exited")
			return nil
		},
	}
}
