package postgres

import (
	"context"
	"errors"

	"github.com/cimillas/pixelgrid/services/api/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const bidColumns = `id, zone_id, bidder_id, pixel_count, amount::text, moderation, created_at`

func scanBid(row pgx.Row) (domain.Bid, error) {
	var (
		b      domain.Bid
		amount string
	)
	if err := row.Scan(&b.ID, &b.ZoneID, &b.BidderID, &b.PixelCount, &amount, &b.Moderation, &b.CreatedAt); err != nil {
		return domain.Bid{}, err
	}
	var err error
	if b.Amount, err = decimal.NewFromString(amount); err != nil {
		return domain.Bid{}, err
	}
	b.CreatedAt = b.CreatedAt.UTC()
	return b, nil
}

func (s *Store) AppendBid(ctx context.Context, bid domain.Bid) error {
	const stmt = `
INSERT INTO bids (id, zone_id, bidder_id, pixel_count, amount, moderation, created_at)
VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)`

	_, err := s.exec(ctx, stmt,
		bid.ID, bid.ZoneID, bid.BidderID, bid.PixelCount, bid.Amount.String(), bid.Moderation, bid.CreatedAt)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		if isForeignKeyViolation(err) {
			return domain.ErrZoneNotFound
		}
		return storageErr("append bid", err)
	}
	return nil
}

func (s *Store) GetBid(ctx context.Context, bidID string) (domain.Bid, error) {
	b, err := scanBid(s.queryRow(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1`, bidID))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Bid{}, domain.ErrInvalidID
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Bid{}, domain.ErrBidNotFound
		}
		return domain.Bid{}, storageErr("get bid", err)
	}
	return b, nil
}

func (s *Store) HighestBid(ctx context.Context, zoneID string, excluding []string) (*domain.Bid, error) {
	const query = `
SELECT ` + bidColumns + `
FROM bids
WHERE zone_id = $1 AND moderation <> 'rejected' AND NOT (id::text = ANY($2))
ORDER BY amount DESC, created_at ASC
LIMIT 1`

	if excluding == nil {
		excluding = []string{}
	}
	b, err := scanBid(s.queryRow(ctx, query, zoneID, excluding))
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, storageErr("highest bid", err)
	}
	return &b, nil
}

func (s *Store) SetModeration(ctx context.Context, bidID string, from, to domain.ModerationState) error {
	tag, err := s.exec(ctx, `UPDATE bids SET moderation = $3 WHERE id = $1 AND moderation = $2`, bidID, from, to)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return storageErr("set moderation", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetBid(ctx, bidID); err != nil {
		return err
	}
	return domain.ErrInvalidTransition
}

func (s *Store) ListBidsForZone(ctx context.Context, zoneID string) ([]domain.Bid, error) {
	rows, err := s.query(ctx, `SELECT `+bidColumns+` FROM bids WHERE zone_id = $1 ORDER BY created_at DESC, id ASC`, zoneID)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, storageErr("list bids", err)
	}
	defer rows.Close()

	var bids []domain.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, storageErr("scan bid", err)
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, storageErr("iterate bids", err)
	}
	return bids, nil
}
