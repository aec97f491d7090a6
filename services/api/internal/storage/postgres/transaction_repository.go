package postgres

import (
	"context"
	"errors"

	"github.com/cimillas/pixelgrid/services/api/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const transactionColumns = `id, user_id, zone_id, COALESCE(bid_id::text, ''), amount::text, pixel_count,
status, payment_method, session_id, created_at, updated_at`

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var (
		t      domain.Transaction
		amount string
	)
	err := row.Scan(&t.ID, &t.UserID, &t.ZoneID, &t.BidID, &amount, &t.PixelCount,
		&t.Status, &t.PaymentMethod, &t.SessionID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.Transaction{}, err
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return domain.Transaction{}, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

func (s *Store) CreateTransaction(ctx context.Context, txn domain.Transaction) error {
	const stmt = `
INSERT INTO transactions (id, user_id, zone_id, bid_id, amount, pixel_count, status,
	payment_method, session_id, created_at, updated_at)
VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5::numeric, $6, $7, $8, $9, $10, $11)`

	_, err := s.exec(ctx, stmt,
		txn.ID, txn.UserID, txn.ZoneID, txn.BidID, txn.Amount.String(), txn.PixelCount, txn.Status,
		txn.PaymentMethod, txn.SessionID, txn.CreatedAt, txn.UpdatedAt,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		if isUniqueViolation(err) {
			return domain.ErrSessionConflict
		}
		if isForeignKeyViolation(err) {
			if constraintName(err) == "transactions_bid_id_fkey" {
				return domain.ErrBidNotFound
			}
			return domain.ErrZoneNotFound
		}
		return storageErr("create transaction", err)
	}
	return nil
}

func (s *Store) GetTransactionBySession(ctx context.Context, sessionID string) (*domain.Transaction, error) {
	return s.findTransaction(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE session_id = $1`, sessionID)
}

func (s *Store) GetCompletedTransaction(ctx context.Context, zoneID string) (*domain.Transaction, error) {
	return s.findTransaction(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE zone_id = $1 AND status = 'completed'`, zoneID)
}

func (s *Store) findTransaction(ctx context.Context, query, arg string) (*domain.Transaction, error) {
	t, err := scanTransaction(s.queryRow(ctx, query, arg))
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, storageErr("get transaction", err)
	}
	return &t, nil
}

func (s *Store) UpdateTransactionStatus(ctx context.Context, txnID string, from, to domain.TransactionStatus) error {
	tag, err := s.exec(ctx,
		`UPDATE transactions SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`,
		txnID, from, to,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		if isUniqueViolation(err) {
			return domain.ErrAlreadyFinalized
		}
		return storageErr("update transaction status", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.queryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)`, txnID).Scan(&exists); err != nil {
		return storageErr("check transaction", err)
	}
	if !exists {
		return domain.ErrTransactionNotFound
	}
	return domain.ErrInvalidTxState
}
