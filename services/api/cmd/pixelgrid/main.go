// Command pixelgrid runs the pixel-grid ad marketplace engine.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cimillas/pixelgrid/services/api/internal/config"
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pixelgrid",
		Short:         "Pixel-grid ad marketplace engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	root.AddCommand(newServeCmd(), newSweepCmd(), newMigrateCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and builds the process logger from it.
func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath, slog.Default())
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := config.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
