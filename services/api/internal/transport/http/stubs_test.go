package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cimillas/pixelgrid/services/api/internal/app"
	"github.com/cimillas/pixelgrid/services/api/internal/domain"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type stubEngine struct {
	zone     domain.Zone
	zones    []domain.Zone
	bid      domain.Bid
	bids     []domain.Bid
	checkout app.BeginCheckoutResult
	confirm  app.ConfirmPaymentResult
	failed   domain.Transaction
	err      error
	validSig bool

	submitted  *app.SubmitBidInput
	created    *app.CreateZoneInput
	deleted    string
	moderated  *app.ModerateInput
	checkedOut *app.BeginCheckoutInput
	confirmed  *app.ConfirmPaymentInput
	failedID   string
}

func (s *stubEngine) GetZone(context.Context, string) (domain.Zone, error) { return s.zone, s.err }

func (s *stubEngine) ListActiveZones(context.Context) ([]domain.Zone, error) { return s.zones, s.err }

func (s *stubEngine) Submit(_ context.Context, in app.SubmitBidInput) (domain.Bid, error) {
	s.submitted = &in
	return s.bid, s.err
}

func (s *stubEngine) ListBids(context.Context, string) ([]domain.Bid, error) { return s.bids, s.err }

func (s *stubEngine) CreateZone(_ context.Context, in app.CreateZoneInput) (domain.Zone, error) {
	s.created = &in
	return s.zone, s.err
}

func (s *stubEngine) DeleteZone(_ context.Context, zoneID string) error {
	s.deleted = zoneID
	return s.err
}

func (s *stubEngine) Moderate(_ context.Context, in app.ModerateInput) (domain.Bid, error) {
	s.moderated = &in
	return s.bid, s.err
}

func (s *stubEngine) BeginCheckout(_ context.Context, in app.BeginCheckoutInput) (app.BeginCheckoutResult, error) {
	s.checkedOut = &in
	return s.checkout, s.err
}

func (s *stubEngine) VerifySignature([]byte, string) bool { return s.validSig }

func (s *stubEngine) ConfirmPayment(_ context.Context, in app.ConfirmPaymentInput) (app.ConfirmPaymentResult, error) {
	s.confirmed = &in
	return s.confirm, s.err
}

func (s *stubEngine) FailPayment(_ context.Context, sessionID string) (domain.Transaction, error) {
	s.failedID = sessionID
	return s.failed, s.err
}

type fixedRemaining time.Duration

func (f fixedRemaining) Remaining(domain.Zone) time.Duration { return time.Duration(f) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(svc *stubEngine) http.Handler {
	return NewRouter(Services{
		Zones:      svc,
		Admin:      svc,
		Bids:       svc,
		Payments:   svc,
		Moderation: svc,
		Clock:      fixedRemaining(90 * time.Second),
	}, RouterOptions{Logger: discardLogger()})
}

type request struct {
	method  string
	path    string
	body    string
	userID  string
	admin   bool
	headers map[string]string
}

func do(t *testing.T, h http.Handler, r request) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(r.method, r.path, bytes.NewBufferString(r.body))
	if r.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.userID != "" {
		req.Header.Set(headerUserID, r.userID)
	}
	if r.admin {
		req.Header.Set(headerAdmin, "true")
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp.Code
}

func sampleAuctionZone() domain.Zone {
	return domain.Zone{
		ID:              "zone-1",
		Title:           "Hero banner",
		Rect:            domain.Rect{X: 10, Y: 20, Width: 10, Height: 5},
		PixelCount:      50,
		PricePerPixel:   decimal.NewFromInt(2),
		Mode:            domain.SaleModeAuction,
		AuctionEndsAt:   testNow.Add(90 * time.Second),
		CurrentBid:      decimal.NewFromInt(60),
		CurrentBidderID: "user-c",
		CurrentBidID:    "bid-c",
		Status:          domain.ZoneStatusActive,
		CreatedAt:       testNow,
		UpdatedAt:       testNow,
	}
}

func sampleBid() domain.Bid {
	return domain.Bid{
		ID:         "bid-1",
		ZoneID:     "zone-1",
		BidderID:   "user-a",
		PixelCount: 50,
		Amount:     decimal.RequireFromString("50.25"),
		Moderation: domain.ModerationPending,
		CreatedAt:  testNow,
	}
}

func sampleTransaction(status domain.TransactionStatus) domain.Transaction {
	return domain.Transaction{
		ID:            "txn-1",
		UserID:        "user-a",
		ZoneID:        "zone-1",
		BidID:         "bid-1",
		Amount:        decimal.NewFromInt(50),
		PixelCount:    50,
		Status:        status,
		PaymentMethod: "card",
		SessionID:     "sess-1",
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
	}
}
