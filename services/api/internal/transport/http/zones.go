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

// ZoneReader is the read side of the listing service.
type ZoneReader interface {
	GetZone(ctx context.Context, zoneID string) (domain.Zone, error)
	ListActiveZones(ctx context.Context) ([]domain.Zone, error)
}

// BidSubmitter is the minimal interface needed to place and list bids.
type BidSubmitter interface {
	Submit(ctx context.Context, in app.SubmitBidInput) (domain.Bid, error)
	ListBids(ctx context.Context, zoneID string) ([]domain.Bid, error)
}

// RemainingClock reports the time left on a zone's auction.
type RemainingClock interface {
	Remaining(z domain.Zone) time.Duration
}

type zoneResponse struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	X               int             `json:"x"`
	Y               int             `json:"y"`
	Width           int             `json:"width"`
	Height          int             `json:"height"`
	PixelCount      int             `json:"pixel_count"`
	PricePerPixel   decimal.Decimal `json:"price_per_pixel"`
	BuyNowPrice     decimal.Decimal `json:"buy_now_price"`
	Mode            string          `json:"mode"`
	AuctionEndsAt   *time.Time      `json:"auction_ends_at,omitempty"`
	RemainingMillis *int64          `json:"remaining_ms,omitempty"`
	CurrentBid      decimal.Decimal `json:"current_bid"`
	CurrentBidderID string          `json:"current_bidder_id,omitempty"`
	CurrentBidID    string          `json:"current_bid_id,omitempty"`
	Status          string          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func newZoneResponse(z domain.Zone, clk RemainingClock) zoneResponse {
	resp := zoneResponse{
		ID:              z.ID,
		Title:           z.Title,
		X:               z.Rect.X,
		Y:               z.Rect.Y,
		Width:           z.Rect.Width,
		Height:          z.Rect.Height,
		PixelCount:      z.PixelCount,
		PricePerPixel:   z.PricePerPixel,
		BuyNowPrice:     z.BuyNowPrice(),
		Mode:            string(z.Mode),
		CurrentBid:      z.CurrentBid,
		CurrentBidderID: z.CurrentBidderID,
		CurrentBidID:    z.CurrentBidID,
		Status:          string(z.Status),
		CreatedAt:       z.CreatedAt,
		UpdatedAt:       z.UpdatedAt,
	}
	if z.IsAuction() {
		ends := z.AuctionEndsAt
		resp.AuctionEndsAt = &ends
		if clk != nil {
			ms := clk.Remaining(z).Milliseconds()
			resp.RemainingMillis = &ms
		}
	}
	return resp
}

type bidResponse struct {
	ID         string          `json:"id"`
	ZoneID     string          `json:"zone_id"`
	BidderID   string          `json:"bidder_id"`
	PixelCount int             `json:"pixel_count"`
	Amount     decimal.Decimal `json:"amount"`
	Moderation string          `json:"moderation"`
	CreatedAt  time.Time       `json:"created_at"`
}

func newBidResponse(b domain.Bid) bidResponse {
	return bidResponse{
		ID:         b.ID,
		ZoneID:     b.ZoneID,
		BidderID:   b.BidderID,
		PixelCount: b.PixelCount,
		Amount:     b.Amount,
		Moderation: string(b.Moderation),
		CreatedAt:  b.CreatedAt,
	}
}

// HandleListZones returns the active zones.
func HandleListZones(svc ZoneReader, clk RemainingClock, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		zones, err := svc.ListActiveZones(r.Context())
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		resp := make([]zoneResponse, 0, len(zones))
		for _, z := range zones {
			resp = append(resp, newZoneResponse(z, clk))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleGetZone returns a zone in any status, with the auction time left.
func HandleGetZone(svc ZoneReader, clk RemainingClock, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		zone, err := svc.GetZone(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, newZoneResponse(zone, clk))
	}
}

// HandleListBids returns a zone's bid history, newest first.
func HandleListBids(svc BidSubmitter, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bids, err := svc.ListBids(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		resp := make([]bidResponse, 0, len(bids))
		for _, b := range bids {
			resp = append(resp, newBidResponse(b))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type submitBidRequest struct {
	Amount     decimal.Decimal `json:"amount" validate:"required,gt=0"`
	PixelCount int             `json:"pixel_count" validate:"gte=0"`
}

// HandleSubmitBid places a bid for the authenticated caller.
func HandleSubmitBid(svc BidSubmitter, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		var req submitBidRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		bid, err := svc.Submit(r.Context(), app.SubmitBidInput{
			ZoneID:     mux.Vars(r)["id"],
			BidderID:   userID,
			Amount:     req.Amount,
			PixelCount: req.PixelCount,
		})
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, newBidResponse(bid))
	}
}
