// Command catalogrelay runs the update-catalog relay: the upstream sync
// engine, the downstream client-sync and content HTTP surfaces, and offline
// bundle export, all driven from one configuration file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mscatalog/catalogrelay/internal/config"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "catalogrelay",
		Short: "Microsoft Update catalog relay",
		Long:  "catalogrelay syncs update metadata from an upstream catalog server and serves it downstream over the client-sync and content protocols.",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml")

	root.AddCommand(newSyncCommand())
	root.AddCommand(newServeCommand())
	root.AddCommand(newExportCommand())
	root.AddCommand(newMigrateCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(configPath)
}
