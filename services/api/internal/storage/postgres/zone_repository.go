package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/cimillas/pixelgrid/services/api/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const zoneColumns = `id, title, x, y, width, height, pixel_count, price_per_pixel::text, mode,
auction_ends_at, current_bid::text, COALESCE(current_bidder_id, ''), COALESCE(current_bid_id::text, ''),
status, created_at, updated_at`

func scanZone(row pgx.Row) (domain.Zone, error) {
	var (
		z              domain.Zone
		price, current string
		endsAt         *time.Time
	)
	err := row.Scan(
		&z.ID, &z.Title, &z.Rect.X, &z.Rect.Y, &z.Rect.Width, &z.Rect.Height, &z.PixelCount,
		&price, &z.Mode, &endsAt, &current, &z.CurrentBidderID, &z.CurrentBidID,
		&z.Status, &z.CreatedAt, &z.UpdatedAt,
	)
	if err != nil {
		return domain.Zone{}, err
	}
	if z.PricePerPixel, err = decimal.NewFromString(price); err != nil {
		return domain.Zone{}, err
	}
	if z.CurrentBid, err = decimal.NewFromString(current); err != nil {
		return domain.Zone{}, err
	}
	if endsAt != nil {
		z.AuctionEndsAt = endsAt.UTC()
	}
	z.CreatedAt = z.CreatedAt.UTC()
	z.UpdatedAt = z.UpdatedAt.UTC()
	return z, nil
}

func (s *Store) GetZone(ctx context.Context, zoneID string) (domain.Zone, error) {
	return s.getZone(ctx, `SELECT `+zoneColumns+` FROM zones WHERE id = $1`, zoneID)
}

func (s *Store) GetZoneForUpdate(ctx context.Context, zoneID string) (domain.Zone, error) {
	return s.getZone(ctx, `SELECT `+zoneColumns+` FROM zones WHERE id = $1 FOR UPDATE`, zoneID)
}

func (s *Store) getZone(ctx context.Context, query, zoneID string) (domain.Zone, error) {
	z, err := scanZone(s.queryRow(ctx, query, zoneID))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Zone{}, domain.ErrInvalidID
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Zone{}, domain.ErrZoneNotFound
		}
		return domain.Zone{}, storageErr("get zone", err)
	}
	return z, nil
}

func (s *Store) ListActiveZones(ctx context.Context) ([]domain.Zone, error) {
	return s.listZones(ctx, `SELECT `+zoneColumns+` FROM zones WHERE status = 'active' ORDER BY created_at ASC, id ASC`)
}

func (s *Store) ListZones(ctx context.Context) ([]domain.Zone, error) {
	return s.listZones(ctx, `SELECT `+zoneColumns+` FROM zones ORDER BY created_at ASC, id ASC`)
}

func (s *Store) listZones(ctx context.Context, query string) ([]domain.Zone, error) {
	rows, err := s.query(ctx, query)
	if err != nil {
		return nil, storageErr("list zones", err)
	}
	defer rows.Close()

	var zones []domain.Zone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, storageErr("scan zone", err)
		}
		zones = append(zones, z)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate zones", err)
	}
	return zones, nil
}

func (s *Store) CreateZone(ctx context.Context, zone domain.Zone) error {
	const stmt = `
INSERT INTO zones (id, title, x, y, width, height, pixel_count, price_per_pixel, mode,
	auction_ends_at, current_bid, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11::numeric, $12, $13, $14)`

	var endsAt *time.Time
	if zone.IsAuction() {
		endsAt = &zone.AuctionEndsAt
	}
	_, err := s.exec(ctx, stmt,
		zone.ID, zone.Title,
		zone.Rect.X, zone.Rect.Y, zone.Rect.Width, zone.Rect.Height, zone.PixelCount,
		zone.PricePerPixel.String(), zone.Mode, endsAt, zone.CurrentBid.String(),
		zone.Status, zone.CreatedAt, zone.UpdatedAt,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return storageErr("create zone", err)
	}
	return nil
}

func (s *Store) DeleteZone(ctx context.Context, zoneID string) error {
	tag, err := s.exec(ctx, `DELETE FROM zones WHERE id = $1`, zoneID)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		if isForeignKeyViolation(err) {
			return domain.ErrZoneInUse
		}
		return storageErr("delete zone", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrZoneNotFound
	}
	return nil
}

func (s *Store) CountZoneReferences(ctx context.Context, zoneID string) (int, error) {
	const query = `
SELECT (SELECT COUNT(*) FROM bids WHERE zone_id = $1) +
       (SELECT COUNT(*) FROM transactions WHERE zone_id = $1)`
	var n int
	if err := s.queryRow(ctx, query, zoneID).Scan(&n); err != nil {
		if isInvalidUUID(err) {
			return 0, domain.ErrInvalidID
		}
		return 0, storageErr("count zone references", err)
	}
	return n, nil
}

// ApplyBidUpdate is the compare-and-set on the zone's current bid. It only
// matches while the zone is active and current_bid still equals the amount
// the caller read.
func (s *Store) ApplyBidUpdate(ctx context.Context, upd domain.BidUpdate) error {
	const stmt = `
UPDATE zones
SET current_bid = $2::numeric,
    current_bidder_id = NULLIF($3, ''),
    current_bid_id = NULLIF($4, '')::uuid,
    updated_at = NOW()
WHERE id = $1 AND status = 'active' AND current_bid = $5::numeric`

	tag, err := s.exec(ctx, stmt, upd.ZoneID, upd.Amount.String(), upd.BidderID, upd.BidID, upd.ExpectedPrior.String())
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return storageErr("apply bid update", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBidConflict
	}
	return nil
}

func (s *Store) FinalizeZone(ctx context.Context, zoneID string, outcome domain.ZoneStatus) error {
	if !domain.ZoneStatusActive.CanFinalize(outcome) {
		return domain.ErrZoneTerminal
	}
	tag, err := s.exec(ctx,
		`UPDATE zones SET status = $2, updated_at = NOW() WHERE id = $1 AND status = 'active'`,
		zoneID, outcome,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return storageErr("finalize zone", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.queryRow(ctx, `SELECT EXISTS (SELECT 1 FROM zones WHERE id = $1)`, zoneID).Scan(&exists); err != nil {
		return storageErr("check zone", err)
	}
	if !exists {
		return domain.ErrZoneNotFound
	}
	return domain.ErrZoneTerminal
}
