package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SaleMode selects how a zone is sold.
type SaleMode string

const (
	SaleModeBuyNow  SaleMode = "buy_now"
	SaleModeAuction SaleMode = "auction"
)

func ParseSaleMode(s string) (SaleMode, error) {
	switch SaleMode(s) {
	case SaleModeBuyNow, SaleModeAuction:
		return SaleMode(s), nil
	}
	return "", ErrInvalidSaleMode
}

type ZoneStatus string

const (
	ZoneStatusActive  ZoneStatus = "active"
	ZoneStatusSold    ZoneStatus = "sold"
	ZoneStatusExpired ZoneStatus = "expired"
)

// Terminal reports whether no further lifecycle transition is allowed.
func (s ZoneStatus) Terminal() bool {
	return s == ZoneStatusSold || s == ZoneStatusExpired
}

// CanFinalize reports whether a zone in status s may move to outcome.
func (s ZoneStatus) CanFinalize(outcome ZoneStatus) bool {
	return s == ZoneStatusActive && outcome.Terminal()
}

// Rect is an axis-aligned pixel rectangle on the canvas.
type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

func (r Rect) Area() int {
	return r.Width * r.Height
}

// Overlaps reports whether the two rectangles share at least one pixel.
func (r Rect) Overlaps(o Rect) bool {
	return r.X < o.X+o.Width && o.X < r.X+r.Width &&
		r.Y < o.Y+o.Height && o.Y < r.Y+r.Height
}

// Within reports whether r lies fully inside a canvas of the given size.
func (r Rect) Within(width, height int) bool {
	return r.X >= 0 && r.Y >= 0 && r.Width > 0 && r.Height > 0 &&
		r.X+r.Width <= width && r.Y+r.Height <= height
}

// Zone represents a sellable rectangle of the pixel canvas.
//
// CurrentBid, CurrentBidderID and CurrentBidID describe the authoritative bid;
// they are identifier-only references into the bid ledger. AuctionEndsAt is
// only meaningful when Mode is SaleModeAuction.
type Zone struct {
	ID              string
	Title           string
	Rect            Rect
	PixelCount      int
	PricePerPixel   decimal.Decimal
	Mode            SaleMode
	AuctionEndsAt   time.Time
	CurrentBid      decimal.Decimal
	CurrentBidderID string
	CurrentBidID    string
	Status          ZoneStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (z Zone) IsAuction() bool {
	return z.Mode == SaleModeAuction
}

// BuyNowPrice is the full price of the zone.
func (z Zone) BuyNowPrice() decimal.Decimal {
	return z.PricePerPixel.Mul(decimal.NewFromInt(int64(z.PixelCount)))
}

func (z Zone) HasCurrentBid() bool {
	return z.CurrentBidID != ""
}

// BidUpdate is a compare-and-set request against a zone's current bid.
// An empty BidID clears the current bid.
type BidUpdate struct {
	ZoneID        string
	BidID         string
	BidderID      string
	Amount        decimal.Decimal
	ExpectedPrior decimal.Decimal
}
