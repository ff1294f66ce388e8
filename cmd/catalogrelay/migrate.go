package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mscatalog/catalogrelay/internal/database"
	"github.com/mscatalog/catalogrelay/pkg/logger"
)

func newMigrateCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect Postgres schema migrations for the standard profile",
	}
	root.AddCommand(newMigrateUpCommand())
	root.AddCommand(newMigrateDownCommand())
	root.AddCommand(newMigrateStatusCommand())
	return root
}

func newMigrateUpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logger.NewLogger(logger.Config(cfg.Log))
			return database.RunMigrations(context.Background(), cfg.GetDatabaseURL(), log)
		},
	}
}

func newMigrateDownCommand() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the last N migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logger.NewLogger(logger.Config(cfg.Log))
			return database.RunMigrationsDown(context.Background(), cfg.GetDatabaseURL(), steps, log)
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	return cmd
}

func newMigrateStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print applied/pending migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logger.NewLogger(logger.Config(cfg.Log))
			return database.GetMigrationStatus(context.Background(), cfg.GetDatabaseURL(), log)
		},
	}
}
