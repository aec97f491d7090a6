package app

import (
	"context"

	"github.com/cimillas/pixelgrid/services/api/internal/clock"
	"github.com/cimillas/pixelgrid/services/api/internal/domain"
	"github.com/cimillas/pixelgrid/services/api/internal/metrics"
	"github.com/cimillas/pixelgrid/services/api/internal/notify"
)

type ModerationService struct {
	repo   LedgerRepository
	ledger *Ledger
	clock  clock.Clock
	opts   options
}

func NewModerationService(repo LedgerRepository, clk clock.Clock, opts ...Option) *ModerationService {
	return &ModerationService{
		repo:   repo,
		ledger: NewLedger(repo, opts...),
		clock:  clk,
		opts:   applyOptions(opts),
	}
}

type ModerateInput struct {
	BidID   string
	State   domain.ModerationState
	AdminID string
}

// Moderate approves or rejects a pending bid. Bids on sold zones are frozen:
// the sale was already decided on their validity.
func (s *ModerationService) Moderate(ctx context.Context, in ModerateInput) (domain.Bid, error) {
	if in.State != domain.ModerationApproved && in.State != domain.ModerationRejected {
		return domain.Bid{}, domain.ErrInvalidModeration
	}

	var result domain.Bid
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		bid, err := s.repo.GetBid(txCtx, in.BidID)
		if err != nil {
			return err
		}
		zone, err := s.repo.GetZoneForUpdate(txCtx, bid.ZoneID)
		if err != nil {
			return err
		}
		if zone.Status == domain.ZoneStatusSold {
			return domain.ErrZoneAlreadyFinalized
		}
		result, err = s.ledger.SetModeration(txCtx, bid.ID, in.State)
		return err
	})
	if err != nil {
		return domain.Bid{}, err
	}

	metrics.ModerationDecisions.WithLabelValues(string(result.Moderation)).Inc()
	s.opts.logger.Info("bid moderated",
		"bid_id", result.ID, "zone_id", result.ZoneID, "state", result.Moderation, "admin_id", in.AdminID)
	s.opts.dispatch(ctx, notify.Event{
		Type:       notify.EventBidModerated,
		ZoneID:     result.ZoneID,
		BidID:      result.ID,
		UserID:     result.BidderID,
		Moderation: string(result.Moderation),
		OccurredAt: s.clock.Now(),
	})
	return result, nil
}
