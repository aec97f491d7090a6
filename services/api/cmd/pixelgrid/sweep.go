package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cimillas/pixelgrid/services/api/internal/clock"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire lapsed auctions once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), startupTimeout)
			defer cancel()

			clk := clock.NewSystem()
			store, closeStore, err := openStore(ctx, cfg.Storage, clk, logger)
			if err != nil {
				return err
			}
			defer closeStore()
			notifier, closeNotifier, err := buildNotifier(ctx, cfg.Notify, logger)
			if err != nil {
				return err
			}
			defer closeNotifier()

			res, err := newEngine(cfg, store, notifier, clk, logger).sweeper.SweepOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			logger.Info("sweep finished", "checked", res.Checked, "expired", len(res.Expired))
			for _, id := range res.Expired {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

