package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/cimillas/pixelgrid/services/api/internal/app"
	"github.com/cimillas/pixelgrid/services/api/internal/clock"
	"github.com/cimillas/pixelgrid/services/api/internal/config"
	"github.com/cimillas/pixelgrid/services/api/internal/metrics"
	"github.com/cimillas/pixelgrid/services/api/internal/notify"
	boltstore "github.com/cimillas/pixelgrid/services/api/internal/storage/bolt"
	"github.com/cimillas/pixelgrid/services/api/internal/storage/postgres"
	transporthttp "github.com/cimillas/pixelgrid/services/api/internal/transport/http"
	"github.com/cimillas/pixelgrid/services/api/migrations"
)

const startupTimeout = 10 * time.Second

// engineStore is satisfied by both storage backends.
type engineStore interface {
	app.ListingRepository
	app.BidRepository
	app.LedgerRepository
	app.PaymentRepository
	app.SweepRepository
	Ping(ctx context.Context) error
}

func openStore(ctx context.Context, cfg config.Storage, clk clock.Clock, logger *slog.Logger) (engineStore, func(), error) {
	switch cfg.Driver {
	case config.DriverBolt:
		store, err := boltstore.Open(cfg.BoltPath, boltstore.WithClock(clk))
		if err != nil {
			return nil, nil, fmt.Errorf("open bolt store: %w", err)
		}
		logger.Info("using bolt store", "path", cfg.BoltPath)
		return store, func() { _ = store.Close() }, nil
	default:
		pool, err := openPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		applied, err := migrations.Apply(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("applied migrations", "names", applied)
		}
		return postgres.NewStore(pool), pool.Close, nil
	}
}

func openPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return pool, nil
}

// buildNotifier connects every configured event sink. A sink that cannot be
// reached at startup is fatal; later delivery failures are only logged.
func buildNotifier(ctx context.Context, cfg config.Notify, logger *slog.Logger) (notify.Notifier, func(), error) {
	var (
		sinks   []notify.Notifier
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("pixelgrid"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect to nats: %w", err)
		}
		closers = append(closers, func() { _ = nc.Drain() })
		sinks = append(sinks, notify.NewNATS(nc, cfg.NATSPrefix))
		logger.Info("publishing events to nats", "url", nc.ConnectedUrlRedacted(), "prefix", cfg.NATSPrefix)
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			closeAll()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		closers = append(closers, func() { _ = client.Close() })
		sinks = append(sinks, notify.NewRedis(client, cfg.RedisPrefix))
		logger.Info("publishing events to redis", "addr", opts.Addr, "prefix", cfg.RedisPrefix)
	}

	if cfg.LogEvents {
		sinks = append(sinks, notify.NewLog(logger))
	}
	return notify.Multi(sinks...), closeAll, nil
}

type engine struct {
	listings   *app.ListingService
	bids       *app.BidService
	payments   *app.PaymentService
	moderation *app.ModerationService
	sweeper    *app.Sweeper
	auction    app.AuctionClock
}

func newEngine(cfg config.Config, store engineStore, notifier notify.Notifier, clk clock.Clock, logger *slog.Logger) engine {
	opts := []app.Option{
		app.WithLogger(logger),
		app.WithNotifier(notifier),
		app.WithMaxAttempts(cfg.Engine.MaxBidAttempts),
	}
	return engine{
		listings: app.NewListingService(store, clk, app.Canvas{Width: cfg.Canvas.Width, Height: cfg.Canvas.Height}, opts...),
		bids:     app.NewBidService(store, clk, opts...),
		payments: app.NewPaymentService(store, clk, app.PaymentConfig{
			Provider:      cfg.Payment.Provider,
			WebhookSecret: cfg.Payment.WebhookSecret,
			Methods:       cfg.Payment.Methods,
		}, opts...),
		moderation: app.NewModerationService(store, clk, opts...),
		sweeper:    app.NewSweeper(store, clk, cfg.Engine.PaymentGrace, opts...),
		auction:    app.NewAuctionClock(clk),
	}
}

func (e engine) services(store engineStore) transporthttp.Services {
	return transporthttp.Services{
		Zones:      e.listings,
		Admin:      e.listings,
		Bids:       e.bids,
		Payments:   e.payments,
		Moderation: e.moderation,
		Clock:      e.auction,
		Store:      store,
		Metrics:    metrics.Handler(),
	}
}
