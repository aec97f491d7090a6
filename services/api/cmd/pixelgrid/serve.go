package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cimillas/pixelgrid/services/api/internal/clock"
	transporthttp "github.com/cimillas/pixelgrid/services/api/internal/transport/http"
)

func newServeCmd() *cobra.Command {
	var (
		addr    string
		noSweep bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the auction expiry sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			if cfg.Payment.WebhookSecret == "" {
				logger.Warn("webhook secret not set, payment callbacks are not verified")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			startupCtx, cancel := context.WithTimeout(ctx, startupTimeout)
			defer cancel()
			clk := clock.NewSystem()
			store, closeStore, err := openStore(startupCtx, cfg.Storage, clk, logger)
			if err != nil {
				return err
			}
			defer closeStore()
			notifier, closeNotifier, err := buildNotifier(startupCtx, cfg.Notify, logger)
			if err != nil {
				return err
			}
			defer closeNotifier()

			eng := newEngine(cfg, store, notifier, clk, logger)
			server := &http.Server{
				Addr: cfg.HTTP.Addr,
				Handler: transporthttp.NewRouter(eng.services(store), transporthttp.RouterOptions{
					CORSOrigins: cfg.HTTP.CORSOrigins,
					Logger:      logger,
				}),
				ReadHeaderTimeout: 5 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.Info("api listening", "addr", cfg.HTTP.Addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			if !noSweep {
				g.Go(func() error {
					logger.Info("sweeper started", "interval", cfg.Engine.SweepInterval, "grace", cfg.Engine.PaymentGrace)
					return eng.sweeper.Run(gctx, cfg.Engine.SweepInterval)
				})
			}
			g.Go(func() error {
				<-gctx.Done()
				logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})

			err = g.Wait()
			logger.Info("server stopped")
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides http.addr")
	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "do not run the in-process expiry sweeper")
	return cmd
}
