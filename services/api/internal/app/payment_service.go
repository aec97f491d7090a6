package app

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"slices"
	"strings"

	"github.com/cimillas/pixelgrid/services/api/internal/clock"
	"github.com/cimillas/pixelgrid/services/api/internal/domain"
	"github.com/cimillas/pixelgrid/services/api/internal/metrics"
	"github.com/cimillas/pixelgrid/services/api/internal/notify"
	"github.com/shopspring/decimal"
)

type PaymentRepository interface {
	TxRunner
	ZoneStore
	BidLedger
	TransactionStore
}

// PaymentConfig carries the payment gateway settings. It is injected at
// construction; the service never reads global settings.
type PaymentConfig struct {
	Provider      string
	WebhookSecret string
	// Methods lists accepted payment methods; empty accepts any.
	Methods []string
}

const defaultPaymentMethod = "card"

// PaymentService opens checkouts and reconciles gateway confirmations with
// zone, bid and transaction state.
type PaymentService struct {
	repo    PaymentRepository
	clock   clock.Clock
	auction AuctionClock
	cfg     PaymentConfig
	opts    options
}

func NewPaymentService(repo PaymentRepository, clk clock.Clock, cfg PaymentConfig, opts ...Option) *PaymentService {
	return &PaymentService{
		repo:    repo,
		clock:   clk,
		auction: NewAuctionClock(clk),
		cfg:     cfg,
		opts:    applyOptions(opts),
	}
}

// VerifySignature checks a hex HMAC-SHA256 of payload against the webhook
// secret. With no secret configured verification is disabled.
func (s *PaymentService) VerifySignature(payload []byte, signature string) bool {
	if s.cfg.WebhookSecret == "" {
		return true
	}
	want, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.cfg.WebhookSecret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), want)
}

type BeginCheckoutInput struct {
	ZoneID        string
	UserID        string
	BidID         string
	SessionID     string
	PaymentMethod string
}

type BeginCheckoutResult struct {
	Transaction domain.Transaction
	Created     bool
}

// BeginCheckout records a pending transaction for the gateway session.
// Repeating the call with the same session returns the existing record.
func (s *PaymentService) BeginCheckout(ctx context.Context, in BeginCheckoutInput) (BeginCheckoutResult, error) {
	if in.SessionID == "" {
		return BeginCheckoutResult{}, domain.ErrSessionIDRequired
	}
	if in.UserID == "" {
		return BeginCheckoutResult{}, domain.ErrBidderRequired
	}
	method := in.PaymentMethod
	if method == "" {
		method = defaultPaymentMethod
	}
	if len(s.cfg.Methods) > 0 && !slices.Contains(s.cfg.Methods, method) {
		return BeginCheckoutResult{}, domain.ErrInvalidPaymentMethod
	}

	now := s.clock.Now()
	var result BeginCheckoutResult

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		existing, err := s.repo.GetTransactionBySession(txCtx, in.SessionID)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.ZoneID != in.ZoneID || existing.UserID != in.UserID || existing.BidID != in.BidID {
				return domain.ErrSessionConflict
			}
			result = BeginCheckoutResult{Transaction: *existing, Created: false}
			return nil
		}

		zone, err := s.repo.GetZoneForUpdate(txCtx, in.ZoneID)
		if err != nil {
			return err
		}
		if zone.Status != domain.ZoneStatusActive {
			return domain.ErrZoneNotActive
		}

		txn := domain.Transaction{
			ID:            newUUID(),
			UserID:        in.UserID,
			ZoneID:        zone.ID,
			BidID:         in.BidID,
			Status:        domain.TransactionPending,
			PaymentMethod: method,
			SessionID:     in.SessionID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		switch zone.Mode {
		case domain.SaleModeBuyNow:
			if in.BidID != "" {
				return domain.ErrPaymentMismatch
			}
			txn.Amount = zone.BuyNowPrice()
			txn.PixelCount = zone.PixelCount
		case domain.SaleModeAuction:
			if !s.auction.IsExpired(zone) {
				return domain.ErrAuctionOpen
			}
			bid, err := s.winningBid(txCtx, zone, in.BidID)
			if err != nil {
				return err
			}
			if bid.BidderID != in.UserID {
				return domain.ErrNotCurrentBidder
			}
			txn.Amount = bid.Amount
			txn.PixelCount = bid.PixelCount
		default:
			return domain.ErrInvalidSaleMode
		}

		if err := s.repo.CreateTransaction(txCtx, txn); err != nil {
			return err
		}
		result = BeginCheckoutResult{Transaction: txn, Created: true}
		return nil
	})
	if err != nil {
		return BeginCheckoutResult{}, err
	}
	if result.Created {
		s.opts.logger.Info("checkout started",
			"zone_id", result.Transaction.ZoneID, "session_id", in.SessionID, "amount", result.Transaction.Amount.String())
	}
	return result, nil
}

// winningBid loads bidID and checks it is the zone's authoritative bid.
func (s *PaymentService) winningBid(ctx context.Context, zone domain.Zone, bidID string) (domain.Bid, error) {
	if bidID == "" || zone.CurrentBidID != bidID {
		return domain.Bid{}, domain.ErrNotCurrentBidder
	}
	bid, err := s.repo.GetBid(ctx, bidID)
	if err != nil {
		return domain.Bid{}, err
	}
	if bid.ZoneID != zone.ID {
		return domain.Bid{}, domain.ErrNotCurrentBidder
	}
	if bid.Moderation == domain.ModerationRejected {
		return domain.Bid{}, domain.ErrBidRejected
	}
	return bid, nil
}

type ConfirmPaymentInput struct {
	SessionID string
	ZoneID    string
	// BidID is empty for buy-now purchases.
	BidID  string
	Amount decimal.Decimal
}

type ConfirmPaymentResult struct {
	Transaction domain.Transaction
	// Duplicate is set when the session had already been applied.
	Duplicate bool
}

// ConfirmPayment applies a gateway confirmation. The transaction becomes
// completed and the zone sold in one storage transaction, with the zone row
// held for the duration; any failure leaves both untouched. Redelivery of an
// applied session is a no-op. Auction zones are only paid once bidding has
// closed. A confirmation arriving after a failure for the same session still
// completes it while the zone is active.
func (s *PaymentService) ConfirmPayment(ctx context.Context, in ConfirmPaymentInput) (ConfirmPaymentResult, error) {
	if in.SessionID == "" {
		return ConfirmPaymentResult{}, domain.ErrSessionIDRequired
	}

	now := s.clock.Now()
	var result ConfirmPaymentResult

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		zone, err := s.repo.GetZoneForUpdate(txCtx, in.ZoneID)
		if err != nil {
			return err
		}

		switch zone.Status {
		case domain.ZoneStatusSold:
			completed, err := s.repo.GetCompletedTransaction(txCtx, zone.ID)
			if err != nil {
				return err
			}
			if completed != nil && completed.SessionID == in.SessionID {
				result = ConfirmPaymentResult{Transaction: *completed, Duplicate: true}
				return nil
			}
			return domain.ErrAlreadyFinalized
		case domain.ZoneStatusExpired:
			return domain.ErrZoneNotActive
		}

		if zone.IsAuction() {
			if !s.auction.IsExpired(zone) {
				return domain.ErrAuctionOpen
			}
			bid, err := s.winningBid(txCtx, zone, in.BidID)
			if errors.Is(err, domain.ErrTransientStorage) {
				return err
			}
			// Outbid or rejected since the checkout started.
			if err != nil || bid.BidderID != zone.CurrentBidderID || !bid.Amount.Equal(zone.CurrentBid) {
				return domain.ErrPaymentMismatch
			}
		} else if in.BidID != "" {
			return domain.ErrPaymentMismatch
		}

		txn, err := s.repo.GetTransactionBySession(txCtx, in.SessionID)
		if err != nil {
			return err
		}
		if txn == nil {
			return domain.ErrTransactionNotFound
		}
		if txn.ZoneID != zone.ID || txn.BidID != in.BidID || !txn.Amount.Equal(in.Amount) {
			return domain.ErrPaymentMismatch
		}
		if !txn.Status.CanTransition(domain.TransactionCompleted) {
			return domain.ErrInvalidTxState
		}
		if txn.Status == domain.TransactionFailed {
			s.opts.logger.Warn("confirmation after failure", "session_id", in.SessionID, "zone_id", zone.ID)
		}

		if err := s.repo.UpdateTransactionStatus(txCtx, txn.ID, txn.Status, domain.TransactionCompleted); err != nil {
			return err
		}
		if err := s.repo.FinalizeZone(txCtx, zone.ID, domain.ZoneStatusSold); err != nil {
			return err
		}

		txn.Status = domain.TransactionCompleted
		txn.UpdatedAt = now
		result = ConfirmPaymentResult{Transaction: *txn}
		return nil
	})
	if err != nil {
		metrics.Reconciliations.WithLabelValues(reconcileOutcome(err)).Inc()
		if errors.Is(err, domain.ErrMismatch) {
			s.opts.logger.Warn("payment confirmation mismatch",
				"session_id", in.SessionID, "zone_id", in.ZoneID, "bid_id", in.BidID, "amount", in.Amount.String())
		}
		return ConfirmPaymentResult{}, err
	}

	if result.Duplicate {
		metrics.Reconciliations.WithLabelValues("duplicate").Inc()
		return result, nil
	}

	metrics.Reconciliations.WithLabelValues("completed").Inc()
	s.opts.logger.Info("zone sold", "zone_id", in.ZoneID, "session_id", in.SessionID)
	s.opts.dispatch(ctx, notify.Event{
		Type:       notify.EventZoneSold,
		ZoneID:     result.Transaction.ZoneID,
		BidID:      result.Transaction.BidID,
		UserID:     result.Transaction.UserID,
		Amount:     notify.Amount(result.Transaction.Amount),
		SessionID:  in.SessionID,
		OccurredAt: now,
	})
	return result, nil
}

// FailPayment records a gateway failure for a pending checkout. A failure
// reported after the session completed is acknowledged and ignored.
func (s *PaymentService) FailPayment(ctx context.Context, sessionID string) (domain.Transaction, error) {
	if sessionID == "" {
		return domain.Transaction{}, domain.ErrSessionIDRequired
	}

	var (
		result  domain.Transaction
		changed bool
	)
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		txn, err := s.repo.GetTransactionBySession(txCtx, sessionID)
		if err != nil {
			return err
		}
		if txn == nil {
			return domain.ErrTransactionNotFound
		}
		if txn.Status != domain.TransactionPending {
			if txn.Status == domain.TransactionCompleted {
				s.opts.logger.Info("failure for completed session ignored", "session_id", sessionID)
			}
			result = *txn
			return nil
		}
		if err := s.repo.UpdateTransactionStatus(txCtx, txn.ID, domain.TransactionPending, domain.TransactionFailed); err != nil {
			return err
		}
		txn.Status = domain.TransactionFailed
		result = *txn
		changed = true
		return nil
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	if changed {
		metrics.Reconciliations.WithLabelValues("failed").Inc()
		s.opts.dispatch(ctx, notify.Event{
			Type:       notify.EventPaymentFailed,
			ZoneID:     result.ZoneID,
			BidID:      result.BidID,
			UserID:     result.UserID,
			SessionID:  sessionID,
			OccurredAt: s.clock.Now(),
		})
	}
	return result, nil
}

func reconcileOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrAlreadyFinalized):
		return "already_finalized"
	case errors.Is(err, domain.ErrMismatch):
		return "mismatch"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	}
	return "error"
}
