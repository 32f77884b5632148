package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/nemanja-m/scrapegrid/internal/coordinator/storage"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Storage.Driver != "postgres" {
				return errors.New("migrations require storage.driver=postgres")
			}
			db, err := storage.Connect(cmd.Context(), cfg.Storage.DSN)
			if err != nil {
				return err
			}
			defer db.Close()
			return storage.MigrateUp(db.DB, logger)
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Storage.Driver != "postgres" {
				return errors.New("migrations require storage.driver=postgres")
			}
			db, err := storage.Connect(cmd.Context(), cfg.Storage.DSN)
			if err != nil {
				return err
			}
			defer db.Close()
			return storage.MigrateDown(db.DB, steps, logger)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	cmd.AddCommand(up, down)
	return cmd
}
