// Package notify fans engine events out to downstream collaborators (the email
// worker, live canvas subscribers). Delivery is best-effort: callers never roll
// back a committed state change because a notifier failed.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventBidAdmitted   EventType = "bid.admitted"
	EventBidModerated  EventType = "bid.moderated"
	EventZoneSold      EventType = "zone.sold"
	EventZoneExpired   EventType = "zone.expired"
	EventPaymentFailed EventType = "payment.failed"
)

type Event struct {
	ID         string           `json:"id"`
	Type       EventType        `json:"type"`
	ZoneID     string           `json:"zone_id"`
	BidID      string           `json:"bid_id,omitempty"`
	UserID     string           `json:"user_id,omitempty"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	Moderation string           `json:"moderation,omitempty"`
	SessionID  string           `json:"session_id,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Func adapts a plain function to Notifier.
type Func func(ctx context.Context, ev Event) error

func (f Func) Notify(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

type multi []Notifier

// Multi delivers to every notifier and joins their errors.
func Multi(notifiers ...Notifier) Notifier {
	out := make(multi, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

func (m multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type logNotifier struct {
	logger *slog.Logger
}

// NewLog returns a notifier that only writes events to the logger.
func NewLog(logger *slog.Logger) Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return logNotifier{logger: logger}
}

func (n logNotifier) Notify(ctx context.Context, ev Event) error {
	attrs := []any{"type", ev.Type, "zone_id", ev.ZoneID}
	if ev.BidID != "" {
		attrs = append(attrs, "bid_id", ev.BidID)
	}
	if ev.SessionID != "" {
		attrs = append(attrs, "session_id", ev.SessionID)
	}
	n.logger.InfoContext(ctx, "event", attrs...)
	return nil
}

// Amount is a convenience for filling Event.Amount.
func Amount(d decimal.Decimal) *decimal.Decimal {
	return &d
}
