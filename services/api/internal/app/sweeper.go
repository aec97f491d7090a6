package app

import (
	"context"
	"errors"
	"time"

	"github.com/cimillas/pixelgrid/services/api/internal/clock"
	"github.com/cimillas/pixelgrid/services/api/internal/domain"
	"github.com/cimillas/pixelgrid/services/api/internal/metrics"
	"github.com/cimillas/pixelgrid/services/api/internal/notify"
)

type SweepRepository interface {
	TxRunner
	ZoneStore
	GetCompletedTransaction(ctx context.Context, zoneID string) (*domain.Transaction, error)
}

// Sweeper expires auction zones whose bidding window has lapsed without a
// completed payment.
type Sweeper struct {
	repo    SweepRepository
	clock   clock.Clock
	auction AuctionClock
	grace   time.Duration
	opts    options
}

func NewSweeper(repo SweepRepository, clk clock.Clock, grace time.Duration, opts ...Option) *Sweeper {
	if grace < 0 {
		grace = 0
	}
	return &Sweeper{
		repo:    repo,
		clock:   clk,
		auction: NewAuctionClock(clk),
		grace:   grace,
		opts:    applyOptions(opts),
	}
}

type SweepResult struct {
	Checked int
	Expired []string
}

var errSkipZone = errors.New("skip zone")

// SweepOnce finalizes every lapsed auction zone. Each zone is decided in its
// own transaction with the zone held, so a payment that completes first wins.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	zones, err := s.repo.ListActiveZones(ctx)
	if err != nil {
		return SweepResult{}, err
	}

	var result SweepResult
	for _, candidate := range zones {
		if !s.auction.ExpiredFor(candidate, s.grace) {
			continue
		}
		result.Checked++

		err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
			zone, err := s.repo.GetZoneForUpdate(txCtx, candidate.ID)
			if err != nil {
				return err
			}
			if zone.Status != domain.ZoneStatusActive || !s.auction.ExpiredFor(zone, s.grace) {
				return errSkipZone
			}
			completed, err := s.repo.GetCompletedTransaction(txCtx, zone.ID)
			if err != nil {
				return err
			}
			if completed != nil {
				return errSkipZone
			}
			return s.repo.FinalizeZone(txCtx, zone.ID, domain.ZoneStatusExpired)
		})
		switch {
		case errors.Is(err, errSkipZone), errors.Is(err, domain.ErrZoneTerminal), errors.Is(err, domain.ErrZoneNotFound):
			continue
		case err != nil:
			return result, err
		}

		result.Expired = append(result.Expired, candidate.ID)
		metrics.ZonesExpired.Inc()
		s.opts.logger.Info("auction expired", "zone_id", candidate.ID)
		s.opts.dispatch(ctx, notify.Event{
			Type:       notify.EventZoneExpired,
			ZoneID:     candidate.ID,
			UserID:     candidate.CurrentBidderID,
			OccurredAt: s.clock.Now(),
		})
	}
	return result, nil
}

// Run sweeps every interval until ctx is cancelled. Sweep errors are logged
// and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.opts.logger.Error("sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
