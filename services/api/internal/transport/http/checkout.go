package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/cimillas/pixelgrid/services/api/internal/app"
	"github.com/cimillas/pixelgrid/services/api/internal/domain"
)

// CheckoutStarter opens a pending transaction for a gateway session.
type CheckoutStarter interface {
	BeginCheckout(ctx context.Context, in app.BeginCheckoutInput) (app.BeginCheckoutResult, error)
}

type checkoutRequest struct {
	SessionID     string `json:"session_id" validate:"required,max=255"`
	BidID         string `json:"bid_id,omitempty" validate:"omitempty,max=64"`
	PaymentMethod string `json:"payment_method,omitempty" validate:"omitempty,max=64"`
}

type transactionResponse struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	ZoneID        string          `json:"zone_id"`
	BidID         string          `json:"bid_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	PixelCount    int             `json:"pixel_count"`
	Status        string          `json:"status"`
	PaymentMethod string          `json:"payment_method"`
	SessionID     string          `json:"session_id"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func newTransactionResponse(t domain.Transaction) transactionResponse {
	return transactionResponse{
		ID:            t.ID,
		UserID:        t.UserID,
		ZoneID:        t.ZoneID,
		BidID:         t.BidID,
		Amount:        t.Amount,
		PixelCount:    t.PixelCount,
		Status:        string(t.Status),
		PaymentMethod: t.PaymentMethod,
		SessionID:     t.SessionID,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

// HandleCheckout records a pending transaction before the caller is sent to
// the gateway. A repeated session returns 200 with the existing record.
func HandleCheckout(svc CheckoutStarter, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		var req checkoutRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		res, err := svc.BeginCheckout(r.Context(), app.BeginCheckoutInput{
			ZoneID:        mux.Vars(r)["id"],
			UserID:        userID,
			BidID:         req.BidID,
			SessionID:     req.SessionID,
			PaymentMethod: req.PaymentMethod,
		})
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}

		status := http.StatusOK
		if res.Created {
			status = http.StatusCreated
		}
		writeJSON(w, status, newTransactionResponse(res.Transaction))
	}
}
