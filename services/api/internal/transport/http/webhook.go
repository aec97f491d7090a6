package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/cimillas/pixelgrid/services/api/internal/app"
	"github.com/cimillas/pixelgrid/services/api/internal/domain"
)

const (
	eventPaymentSucceeded = "payment.succeeded"
	eventPaymentFailed    = "payment.failed"
)

// PaymentReconciler applies gateway callbacks.
type PaymentReconciler interface {
	VerifySignature(payload []byte, signature string) bool
	ConfirmPayment(ctx context.Context, in app.ConfirmPaymentInput) (app.ConfirmPaymentResult, error)
	FailPayment(ctx context.Context, sessionID string) (domain.Transaction, error)
}

type webhookEvent struct {
	Type      string          `json:"type" validate:"required"`
	SessionID string          `json:"session_id" validate:"required,max=255"`
	ZoneID    string          `json:"zone_id" validate:"required_if=Type payment.succeeded"`
	BidID     string          `json:"bid_id,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
}

type webhookResponse struct {
	Status      string               `json:"status"`
	Duplicate   bool                 `json:"duplicate,omitempty"`
	Transaction *transactionResponse `json:"transaction,omitempty"`
}

// HandlePaymentWebhook verifies and applies a gateway event. Deliveries are
// at-least-once: a duplicate confirmation answers 200 without side effects,
// and any non-2xx answer asks the gateway to redeliver.
func HandlePaymentWebhook(svc PaymentReconciler, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if !svc.VerifySignature(payload, r.Header.Get(headerSignature)) {
			logger.Warn("webhook signature rejected", "remote", r.RemoteAddr, "request_id", requestIDFrom(r.Context()))
			writeError(w, http.StatusUnauthorized, codeInvalidSignature, "invalid signature")
			return
		}

		var ev webhookEvent
		if !decodePayload(w, payload, &ev) {
			return
		}

		switch ev.Type {
		case eventPaymentSucceeded:
			res, err := svc.ConfirmPayment(r.Context(), app.ConfirmPaymentInput{
				SessionID: ev.SessionID,
				ZoneID:    ev.ZoneID,
				BidID:     ev.BidID,
				Amount:    ev.Amount,
			})
			if err != nil {
				writeServiceError(w, logger, err)
				return
			}
			tx := newTransactionResponse(res.Transaction)
			writeJSON(w, http.StatusOK, webhookResponse{Status: "applied", Duplicate: res.Duplicate, Transaction: &tx})
		case eventPaymentFailed:
			txn, err := svc.FailPayment(r.Context(), ev.SessionID)
			if err != nil {
				writeServiceError(w, logger, err)
				return
			}
			tx := newTransactionResponse(txn)
			writeJSON(w, http.StatusOK, webhookResponse{Status: "failed", Transaction: &tx})
		default:
			// Unknown event types are acknowledged so the gateway stops redelivering.
			logger.Info("ignoring webhook event", "type", ev.Type, "session_id", ev.SessionID)
			writeJSON(w, http.StatusAccepted, webhookResponse{Status: "ignored"})
		}
	}
}
