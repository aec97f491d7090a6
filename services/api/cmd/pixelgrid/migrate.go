package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cimillas/pixelgrid/services/api/internal/config"
	"github.com/cimillas/pixelgrid/services/api/migrations"
)

func newMigrateCmd() *cobra.Command {
	var status bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Storage.Driver != config.DriverPostgres {
				logger.Info("storage driver has no migrations", "driver", cfg.Storage.Driver)
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), startupTimeout)
			defer cancel()
			pool, err := openPool(ctx, cfg.Storage.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			out := cmd.OutOrStdout()
			if status {
				pending, err := migrations.Pending(ctx, pool)
				if err != nil {
					return fmt.Errorf("migration status: %w", err)
				}
				if len(pending) == 0 {
					fmt.Fprintln(out, "up to date")
				}
				for _, name := range pending {
					fmt.Fprintln(out, "pending", name)
				}
				return nil
			}

			applied, err := migrations.Apply(ctx, pool)
			if err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
			for _, name := range applied {
				fmt.Fprintln(out, "applied", name)
			}
			logger.Info("migrations applied", "count", len(applied))
			return nil
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "list pending migrations without applying them")
	return cmd
}
