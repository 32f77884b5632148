package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nemanja-m/scrapegrid/internal/shared/config"
	"github.com/nemanja-m/scrapegrid/internal/shared/logging"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "coordinator",
		Short:         "Scrapegrid job coordinator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	root.AddCommand(newServeCmd(), newMigrateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.CoordinatorConfig, logging.Logger, error) {
	cfg, err := config.LoadCoordinator(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
