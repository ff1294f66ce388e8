package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/mscatalog/catalogrelay/internal/appwiring"
	"github.com/mscatalog/catalogrelay/internal/catalog/export"
	"github.com/mscatalog/catalogrelay/pkg/logger"
)

func newExportCommand() *cobra.Command {
	var firstX int
	var languages []string
	var outPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a metadata.txt + package.xml bundle for offline import (spec §4.6)",
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

			svc := appwiring.NewExport(st, idx, log)
			archive, err := svc.Export(ctx, export.Filter{
				FirstX:    firstX,
				Languages: languages,
			})
			if err != nil {
				return err
			}

			return os.WriteFile(outPath, archive, 0o644)
		},
	}

	cmd.Flags().IntVar(&firstX, "first-x", 0, "cap on top-level software updates selected before bundle closure expansion (0 = unlimited)")
	cmd.Flags().StringSliceVar(&languages, "languages", []string{"en"}, "locales to include in package.xml")
	cmd.Flags().StringVar(&outPath, "out", "export.zip", "output archive path")
	return cmd
}
