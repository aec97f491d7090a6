package app

import (
	"context"
	"time"

	"github.com/cimillas/pixelgrid/services/api/internal/clock"
	"github.com/cimillas/pixelgrid/services/api/internal/domain"
	"github.com/shopspring/decimal"
)

type ListingRepository interface {
	TxRunner
	ZoneStore
	// LockListings serializes zone creation for the rest of the transaction.
	LockListings(ctx context.Context) error
	ListZones(ctx context.Context) ([]domain.Zone, error)
	CreateZone(ctx context.Context, zone domain.Zone) error
	DeleteZone(ctx context.Context, zoneID string) error
	// CountZoneReferences counts bids and transactions pointing at the zone.
	CountZoneReferences(ctx context.Context, zoneID string) (int, error)
}

// Canvas is the size of the pixel grid in pixels.
type Canvas struct {
	Width  int
	Height int
}

var DefaultCanvas = Canvas{Width: 1000, Height: 1000}

type ListingService struct {
	repo   ListingRepository
	clock  clock.Clock
	canvas Canvas
	opts   options
}

func NewListingService(repo ListingRepository, clk clock.Clock, canvas Canvas, opts ...Option) *ListingService {
	if canvas.Width <= 0 || canvas.Height <= 0 {
		canvas = DefaultCanvas
	}
	return &ListingService{
		repo:   repo,
		clock:  clk,
		canvas: canvas,
		opts:   applyOptions(opts),
	}
}

type CreateZoneInput struct {
	Title         string
	Rect          domain.Rect
	PricePerPixel decimal.Decimal
	Mode          domain.SaleMode
	AuctionEndsAt *time.Time
}

func (s *ListingService) CreateZone(ctx context.Context, in CreateZoneInput) (domain.Zone, error) {
	if in.Title == "" {
		return domain.Zone{}, domain.ErrZoneTitleRequired
	}
	if !in.Rect.Within(s.canvas.Width, s.canvas.Height) {
		return domain.Zone{}, domain.ErrInvalidGeometry
	}
	if !in.PricePerPixel.IsPositive() {
		return domain.Zone{}, domain.ErrInvalidPrice
	}

	now := s.clock.Now()
	zone := domain.Zone{
		ID:            newUUID(),
		Title:         in.Title,
		Rect:          in.Rect,
		PixelCount:    in.Rect.Area(),
		PricePerPixel: in.PricePerPixel,
		Mode:          in.Mode,
		CurrentBid:    decimal.Zero,
		Status:        domain.ZoneStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	switch in.Mode {
	case domain.SaleModeBuyNow:
		if in.AuctionEndsAt != nil {
			return domain.Zone{}, domain.ErrInvalidAuctionEnd
		}
	case domain.SaleModeAuction:
		if in.AuctionEndsAt == nil || !in.AuctionEndsAt.After(now) {
			return domain.Zone{}, domain.ErrInvalidAuctionEnd
		}
		zone.AuctionEndsAt = in.AuctionEndsAt.UTC()
	default:
		return domain.Zone{}, domain.ErrInvalidSaleMode
	}

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.LockListings(txCtx); err != nil {
			return err
		}
		existing, err := s.repo.ListZones(txCtx)
		if err != nil {
			return err
		}
		for _, other := range existing {
			// Pixels of an expired auction can be listed again.
			if other.Status == domain.ZoneStatusExpired {
				continue
			}
			if other.Rect.Overlaps(zone.Rect) {
				return domain.ErrZoneOverlap
			}
		}
		return s.repo.CreateZone(txCtx, zone)
	})
	if err != nil {
		return domain.Zone{}, err
	}

	s.opts.logger.Info("zone listed", "zone_id", zone.ID, "mode", zone.Mode, "pixels", zone.PixelCount)
	return zone, nil
}

func (s *ListingService) GetZone(ctx context.Context, zoneID string) (domain.Zone, error) {
	if zoneID == "" {
		return domain.Zone{}, domain.ErrInvalidID
	}
	return s.repo.GetZone(ctx, zoneID)
}

func (s *ListingService) ListActiveZones(ctx context.Context) ([]domain.Zone, error) {
	return s.repo.ListActiveZones(ctx)
}

// DeleteZone removes a zone nothing refers to yet.
func (s *ListingService) DeleteZone(ctx context.Context, zoneID string) error {
	if zoneID == "" {
		return domain.ErrInvalidID
	}
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		if _, err := s.repo.GetZoneForUpdate(txCtx, zoneID); err != nil {
			return err
		}
		refs, err := s.repo.CountZoneReferences(txCtx, zoneID)
		if err != nil {
			return err
		}
		if refs > 0 {
			return domain.ErrZoneInUse
		}
		return s.repo.DeleteZone(txCtx, zoneID)
	})
	if err != nil {
		return err
	}
	s.opts.logger.Info("zone deleted", "zone_id", zoneID)
	return nil
}
