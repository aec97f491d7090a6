package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/cimillas/pixelgrid/services/api/internal/metrics"
	"github.com/cimillas/pixelgrid/services/api/internal/notify"
)

const (
	defaultMaxAttempts = 5
	notifyTimeout      = 5 * time.Second
)

type options struct {
	logger      *slog.Logger
	notifier    notify.Notifier
	maxAttempts int
}

func defaultOptions() options {
	return options{
		logger:      slog.Default(),
		maxAttempts: defaultMaxAttempts,
	}
}

// Option configures the engine services.
type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithNotifier sets the collaborator informed after successful transitions.
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) {
		o.notifier = n
	}
}

// WithMaxAttempts bounds compare-and-set retries for bid admission and
// moderation rollback.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// dispatch delivers ev in the background. The state change it describes is
// already committed, so failures are only logged.
func (o options) dispatch(ctx context.Context, ev notify.Event) {
	if o.notifier == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = newUUID()
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()
		if err := o.notifier.Notify(ctx, ev); err != nil {
			metrics.NotifyFailures.Inc()
			o.logger.Warn("notify failed", "type", ev.Type, "zone_id", ev.ZoneID, "error", err)
		}
	}()
}
