package main

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mscatalog/catalogrelay/internal/appwiring"
	"github.com/mscatalog/catalogrelay/internal/catalog/syncengine"
	"github.com/mscatalog/catalogrelay/internal/realtime"
	"github.com/mscatalog/catalogrelay/pkg/logger"
	"github.com/mscatalog/catalogrelay/pkg/metrics"
)

func newSyncCommand() *cobra.Command {
	var categories []string
	var anchorKind string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync invocation against the upstream catalog server",
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

			bus := realtime.NewEventBus(log, nil)
			if err := bus.Start(ctx); err != nil {
				return err
			}
			defer bus.Stop(ctx)

			engine, err := appwiring.NewEngine(ctx, cfg, st, idx, bus, metrics.NewSyncMetrics("catalogrelay"), log)
			if err != nil {
				return err
			}

			filter := filterFor(anchorKind, categories)
			runID := uuid.NewString()
			result, err := engine.Run(ctx, runID, filter)
			if err != nil {
				return err
			}
			log.Info("sync invocation completed",
				"run_id", result.RunID,
				"fetched", result.Fetched,
				"skipped_seen", result.SkippedSeen,
				"new_anchor", result.NewAnchor,
			)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&categories, "categories", nil, "category GUIDs to scope the sync to (empty syncs the top-level category set)")
	cmd.Flags().StringVar(&anchorKind, "anchor-kind", "categories", `anchor kind: "categories" or "updates"`)
	return cmd
}

func filterFor(anchorKind string, categories []string) syncengine.Filter {
	sorted := append([]string(nil), categories...)
	sort.Strings(sorted)
	f := syncengine.Filter{Categories: categories, AnchorKind: anchorKind}
	if anchorKind == "updates" {
		f.FilterHash = strings.Join(sorted, ",")
	}
	return f
}
