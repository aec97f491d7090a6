package app

import (
	"context"
	"errors"
	"time"

	"github.com/cimillas/pixelgrid/services/api/internal/clock"
	"github.com/cimillas/pixelgrid/services/api/internal/domain"
	"github.com/cimillas/pixelgrid/services/api/internal/metrics"
	"github.com/cimillas/pixelgrid/services/api/internal/notify"
	"github.com/shopspring/decimal"
)

type BidRepository interface {
	TxRunner
	ZoneStore
	BidLedger
}

// BidService admits bids. A zone's current bid only moves through a
// compare-and-set, so two racing bids can never both become the high bid.
type BidService struct {
	repo    BidRepository
	clock   clock.Clock
	auction AuctionClock
	opts    options
}

func NewBidService(repo BidRepository, clk clock.Clock, opts ...Option) *BidService {
	return &BidService{
		repo:    repo,
		clock:   clk,
		auction: NewAuctionClock(clk),
		opts:    applyOptions(opts),
	}
}

type SubmitBidInput struct {
	ZoneID   string
	BidderID string
	Amount   decimal.Decimal
	// PixelCount defaults to the whole zone when zero.
	PixelCount int
}

func (s *BidService) Submit(ctx context.Context, in SubmitBidInput) (domain.Bid, error) {
	start := time.Now()
	defer func() {
		metrics.BidAdmissionDuration.Observe(time.Since(start).Seconds())
	}()

	if in.BidderID == "" {
		return domain.Bid{}, domain.ErrBidderRequired
	}
	if !in.Amount.IsPositive() || in.PixelCount < 0 {
		return domain.Bid{}, domain.ErrInvalidBid
	}

	bidID := newUUID()
	for attempt := 1; attempt <= s.opts.maxAttempts; attempt++ {
		bid, prior, err := s.tryAdmit(ctx, bidID, in)
		if errors.Is(err, domain.ErrBidConflict) {
			metrics.BidCASConflicts.Inc()
			s.opts.logger.Debug("bid lost compare-and-set, retrying",
				"zone_id", in.ZoneID, "bid_id", bidID, "attempt", attempt)
			continue
		}
		if err != nil {
			metrics.BidSubmissions.WithLabelValues(submitOutcome(err)).Inc()
			return domain.Bid{}, err
		}

		metrics.BidSubmissions.WithLabelValues("admitted").Inc()
		s.opts.logger.Info("bid admitted",
			"zone_id", bid.ZoneID, "bid_id", bid.ID, "amount", bid.Amount.String(), "previous", prior.String())
		s.opts.dispatch(ctx, notify.Event{
			Type:       notify.EventBidAdmitted,
			ZoneID:     bid.ZoneID,
			BidID:      bid.ID,
			UserID:     bid.BidderID,
			Amount:     notify.Amount(bid.Amount),
			OccurredAt: bid.CreatedAt,
		})
		return bid, nil
	}

	metrics.BidSubmissions.WithLabelValues("contention").Inc()
	return domain.Bid{}, domain.ErrRetryBudget
}

// tryAdmit is one admission attempt. The ledger append and the zone update
// share a transaction, so a lost compare-and-set leaves no bid behind.
func (s *BidService) tryAdmit(ctx context.Context, bidID string, in SubmitBidInput) (domain.Bid, decimal.Decimal, error) {
	var (
		bid   domain.Bid
		prior decimal.Decimal
	)
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		zone, err := s.repo.GetZone(txCtx, in.ZoneID)
		if err != nil {
			return err
		}
		if zone.Status != domain.ZoneStatusActive {
			return domain.ErrZoneNotActive
		}
		if s.auction.IsExpired(zone) {
			return domain.ErrAuctionClosed
		}
		if in.Amount.LessThanOrEqual(zone.CurrentBid) {
			return domain.ErrBidTooLow
		}

		pixels := in.PixelCount
		if pixels == 0 {
			pixels = zone.PixelCount
		}
		if pixels > zone.PixelCount {
			return domain.ErrInvalidBid
		}

		bid = domain.Bid{
			ID:         bidID,
			ZoneID:     zone.ID,
			BidderID:   in.BidderID,
			PixelCount: pixels,
			Amount:     in.Amount,
			Moderation: domain.ModerationPending,
			CreatedAt:  s.clock.Now(),
		}
		prior = zone.CurrentBid

		if err := s.repo.AppendBid(txCtx, bid); err != nil {
			return err
		}
		return s.repo.ApplyBidUpdate(txCtx, domain.BidUpdate{
			ZoneID:        zone.ID,
			BidID:         bid.ID,
			BidderID:      bid.BidderID,
			Amount:        bid.Amount,
			ExpectedPrior: zone.CurrentBid,
		})
	})
	return bid, prior, err
}

// ListBids returns the zone's bids, newest first.
func (s *BidService) ListBids(ctx context.Context, zoneID string) ([]domain.Bid, error) {
	if _, err := s.repo.GetZone(ctx, zoneID); err != nil {
		return nil, err
	}
	return s.repo.ListBidsForZone(ctx, zoneID)
}

func submitOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrBidTooLow):
		return "too_low"
	case errors.Is(err, domain.ErrAuctionClosed):
		return "closed"
	case errors.Is(err, domain.ErrZoneNotActive):
		return "not_active"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid"
	}
	return "error"
}
