package app

import (
	"context"

	"github.com/cimillas/pixelgrid/services/api/internal/domain"
)

// TxRunner runs fn inside a storage transaction. Nested calls join the
// transaction already carried by ctx.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ZoneStore owns zone records.
type ZoneStore interface {
	GetZone(ctx context.Context, zoneID string) (domain.Zone, error)
	// GetZoneForUpdate reads the zone and holds it exclusively until the
	// surrounding transaction ends.
	GetZoneForUpdate(ctx context.Context, zoneID string) (domain.Zone, error)
	ListActiveZones(ctx context.Context) ([]domain.Zone, error)
	// ApplyBidUpdate swaps the zone's current bid only if it still equals
	// upd.ExpectedPrior and the zone is active; otherwise ErrBidConflict.
	ApplyBidUpdate(ctx context.Context, upd domain.BidUpdate) error
	// FinalizeZone moves an active zone to a terminal status; ErrZoneTerminal
	// if it already left active.
	FinalizeZone(ctx context.Context, zoneID string, outcome domain.ZoneStatus) error
}

// BidLedger owns bid records.
type BidLedger interface {
	AppendBid(ctx context.Context, bid domain.Bid) error
	GetBid(ctx context.Context, bidID string) (domain.Bid, error)
	// HighestBid returns the highest non-rejected bid on the zone whose ID is
	// not in excluding, earliest first on ties. Nil when none remain.
	HighestBid(ctx context.Context, zoneID string, excluding []string) (*domain.Bid, error)
	// SetModeration moves the bid from one state to another; ErrInvalidTransition
	// if the stored state is not from.
	SetModeration(ctx context.Context, bidID string, from, to domain.ModerationState) error
	ListBidsForZone(ctx context.Context, zoneID string) ([]domain.Bid, error)
}

// TransactionStore owns payment transactions.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, txn domain.Transaction) error
	GetTransactionBySession(ctx context.Context, sessionID string) (*domain.Transaction, error)
	GetCompletedTransaction(ctx context.Context, zoneID string) (*domain.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, txnID string, from, to domain.TransactionStatus) error
}
