package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ModerationState string

const (
	ModerationPending  ModerationState = "pending"
	ModerationApproved ModerationState = "approved"
	ModerationRejected ModerationState = "rejected"
)

func ParseModerationState(s string) (ModerationState, error) {
	switch ModerationState(s) {
	case ModerationPending, ModerationApproved, ModerationRejected:
		return ModerationState(s), nil
	}
	return "", ErrInvalidModeration
}

// CanTransition reports whether moderation may move from s to next.
// Only pending bids can be decided; approved and rejected are terminal.
func (s ModerationState) CanTransition(next ModerationState) bool {
	return s == ModerationPending && (next == ModerationApproved || next == ModerationRejected)
}

// Bid is a single offer against a zone. Everything except Moderation is
// immutable once appended to the ledger.
type Bid struct {
	ID         string
	ZoneID     string
	BidderID   string
	PixelCount int
	Amount     decimal.Decimal
	Moderation ModerationState
	CreatedAt  time.Time
}
