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

// ZoneAdmin is the minimal interface needed for admin zone endpoints.
type ZoneAdmin interface {
	CreateZone(ctx context.Context, in app.CreateZoneInput) (domain.Zone, error)
	DeleteZone(ctx context.Context, zoneID string) error
}

// BidModerator is the minimal interface needed for the moderation endpoint.
type BidModerator interface {
	Moderate(ctx context.Context, in app.ModerateInput) (domain.Bid, error)
}

type createZoneRequest struct {
	Title         string          `json:"title" validate:"required,max=200"`
	X             int             `json:"x" validate:"gte=0"`
	Y             int             `json:"y" validate:"gte=0"`
	Width         int             `json:"width" validate:"gt=0"`
	Height        int             `json:"height" validate:"gt=0"`
	PricePerPixel decimal.Decimal `json:"price_per_pixel" validate:"required,gt=0"`
	Mode          string          `json:"mode" validate:"required,oneof=buy_now auction"`
	AuctionEndsAt *time.Time      `json:"auction_ends_at,omitempty" validate:"required_if=Mode auction"`
}

// HandleCreateZone lists a new zone on the canvas.
func HandleCreateZone(svc ZoneAdmin, clk RemainingClock, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireAdmin(w, r); !ok {
			return
		}
		var req createZoneRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		zone, err := svc.CreateZone(r.Context(), app.CreateZoneInput{
			Title:         req.Title,
			Rect:          domain.Rect{X: req.X, Y: req.Y, Width: req.Width, Height: req.Height},
			PricePerPixel: req.PricePerPixel,
			Mode:          domain.SaleMode(req.Mode),
			AuctionEndsAt: req.AuctionEndsAt,
		})
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, newZoneResponse(zone, clk))
	}
}

// HandleDeleteZone removes a zone nothing references yet.
func HandleDeleteZone(svc ZoneAdmin, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, ok := requireAdmin(w, r)
		if !ok {
			return
		}
		zoneID := mux.Vars(r)["id"]
		if err := svc.DeleteZone(r.Context(), zoneID); err != nil {
			writeServiceError(w, logger, err)
			return
		}
		logger.Info("zone deleted", "zone_id", zoneID, "admin_id", adminID)
		w.WriteHeader(http.StatusNoContent)
	}
}

type moderateRequest struct {
	State string `json:"state" validate:"required,oneof=approved rejected"`
}

// HandleModerateBid approves or rejects a pending bid.
func HandleModerateBid(svc BidModerator, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, ok := requireAdmin(w, r)
		if !ok {
			return
		}
		var req moderateRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		bid, err := svc.Moderate(r.Context(), app.ModerateInput{
			BidID:   mux.Vars(r)["id"],
			State:   domain.ModerationState(req.State),
			AdminID: adminID,
		})
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, newBidResponse(bid))
	}
}
