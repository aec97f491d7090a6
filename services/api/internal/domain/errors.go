package domain

import "errors"

// Error kinds. Every concrete error below wraps exactly one of these so callers
// can branch on the category with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidState     = errors.New("invalid state")
	ErrContention       = errors.New("contention")
	ErrMismatch         = errors.New("mismatch")
	ErrTransientStorage = errors.New("transient storage error")
)

var (
	ErrZoneNotFound        = newError(ErrNotFound, "zone not found")
	ErrBidNotFound         = newError(ErrNotFound, "bid not found")
	ErrTransactionNotFound = newError(ErrNotFound, "transaction not found")

	ErrInvalidID            = newError(ErrInvalidInput, "invalid id")
	ErrInvalidBid           = newError(ErrInvalidInput, "invalid bid")
	ErrInvalidGeometry      = newError(ErrInvalidInput, "invalid zone geometry")
	ErrInvalidPrice         = newError(ErrInvalidInput, "invalid price")
	ErrInvalidAuctionEnd    = newError(ErrInvalidInput, "invalid auction end time")
	ErrInvalidSaleMode      = newError(ErrInvalidInput, "invalid sale mode")
	ErrInvalidModeration    = newError(ErrInvalidInput, "invalid moderation state")
	ErrSessionIDRequired    = newError(ErrInvalidInput, "payment session id required")
	ErrZoneTitleRequired    = newError(ErrInvalidInput, "zone title required")
	ErrBidderRequired       = newError(ErrInvalidInput, "user id required")
	ErrInvalidPaymentMethod = newError(ErrInvalidInput, "unsupported payment method")
	ErrZoneOverlap          = newError(ErrInvalidState, "zone overlaps an existing zone")
	ErrZoneInUse            = newError(ErrInvalidState, "zone is referenced by bids or transactions")
	ErrZoneNotActive        = newError(ErrInvalidState, "zone not active")
	ErrZoneTerminal         = newError(ErrInvalidState, "zone already in a terminal state")
	ErrZoneAlreadyFinalized = newError(ErrInvalidState, "zone already finalized")
	ErrAuctionClosed        = newError(ErrInvalidState, "auction closed")
	ErrAuctionOpen          = newError(ErrInvalidState, "auction still open")
	ErrBidTooLow            = newError(ErrInvalidState, "bid too low")
	ErrInvalidTransition    = newError(ErrInvalidState, "invalid moderation transition")
	ErrNotCurrentBidder     = newError(ErrInvalidState, "bid is not the zone's current bid for this user")
	ErrBidRejected          = newError(ErrInvalidState, "bid was rejected")
	ErrInvalidTxState       = newError(ErrInvalidState, "invalid transaction state")
	ErrSessionConflict      = newError(ErrInvalidState, "payment session belongs to another checkout")
	ErrAlreadyFinalized     = newError(ErrInvalidState, "zone already sold under another payment session")

	ErrBidConflict = newError(ErrContention, "zone bid changed concurrently")
	ErrRetryBudget = newError(ErrContention, "too much contention, retry later")

	ErrPaymentMismatch = newError(ErrMismatch, "payment confirmation does not match zone state")
)

type kindError struct {
	kind error
	msg  string
}

func newError(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }
