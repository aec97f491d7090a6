package app

import (
	"context"
	"errors"

	"github.com/cimillas/pixelgrid/services/api/internal/domain"
	"github.com/shopspring/decimal"
)

type LedgerRepository interface {
	TxRunner
	ZoneStore
	BidLedger
}

// Ledger applies moderation decisions to bids and keeps the zone's current
// bid consistent with them.
type Ledger struct {
	repo LedgerRepository
	opts options
}

func NewLedger(repo LedgerRepository, opts ...Option) *Ledger {
	return &Ledger{repo: repo, opts: applyOptions(opts)}
}

// SetModeration moves a pending bid to approved or rejected. Rejecting the
// zone's current bid hands the zone to the next-highest non-rejected bid, or
// clears it when none is left.
func (l *Ledger) SetModeration(ctx context.Context, bidID string, state domain.ModerationState) (domain.Bid, error) {
	var result domain.Bid
	err := l.repo.WithTx(ctx, func(txCtx context.Context) error {
		bid, err := l.repo.GetBid(txCtx, bidID)
		if err != nil {
			return err
		}
		if !bid.Moderation.CanTransition(state) {
			return domain.ErrInvalidTransition
		}
		if err := l.repo.SetModeration(txCtx, bid.ID, bid.Moderation, state); err != nil {
			return err
		}
		bid.Moderation = state
		result = bid

		if state != domain.ModerationRejected {
			return nil
		}
		return l.rollback(txCtx, bid)
	})
	if err != nil {
		return domain.Bid{}, err
	}
	return result, nil
}

func (l *Ledger) rollback(ctx context.Context, rejected domain.Bid) error {
	for attempt := 0; attempt < l.opts.maxAttempts; attempt++ {
		zone, err := l.repo.GetZoneForUpdate(ctx, rejected.ZoneID)
		if err != nil {
			return err
		}
		// Terminal zones keep their bid fields frozen.
		if zone.Status != domain.ZoneStatusActive || zone.CurrentBidID != rejected.ID {
			return nil
		}

		next, err := l.repo.HighestBid(ctx, zone.ID, []string{rejected.ID})
		if err != nil {
			return err
		}
		upd := domain.BidUpdate{
			ZoneID:        zone.ID,
			Amount:        decimal.Zero,
			ExpectedPrior: zone.CurrentBid,
		}
		if next != nil {
			upd.BidID = next.ID
			upd.BidderID = next.BidderID
			upd.Amount = next.Amount
		}

		err = l.repo.ApplyBidUpdate(ctx, upd)
		if errors.Is(err, domain.ErrBidConflict) {
			continue
		}
		if err != nil {
			return err
		}
		l.opts.logger.Info("current bid rolled back",
			"zone_id", zone.ID, "rejected_bid_id", rejected.ID, "new_bid_id", upd.BidID)
		return nil
	}
	return domain.ErrRetryBudget
}
