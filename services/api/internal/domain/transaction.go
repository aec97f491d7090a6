package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
)

// CanTransition reports whether a transaction may move from s to next. A
// confirmation may follow a failure reported out of order by the gateway;
// completed is terminal.
func (s TransactionStatus) CanTransition(next TransactionStatus) bool {
	switch s {
	case TransactionPending:
		return next == TransactionCompleted || next == TransactionFailed
	case TransactionFailed:
		return next == TransactionCompleted
	}
	return false
}

// Transaction records a payment attempt for a zone. BidID is empty for
// buy-now purchases.
type Transaction struct {
	ID            string
	UserID        string
	ZoneID        string
	BidID         string
	Amount        decimal.Decimal
	PixelCount    int
	Status        TransactionStatus
	PaymentMethod string
	SessionID     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
