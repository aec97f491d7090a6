package app

import (
	"time"

	"github.com/cimillas/pixelgrid/services/api/internal/clock"
	"github.com/cimillas/pixelgrid/services/api/internal/domain"
)

// AuctionClock derives the bidding window of auction zones from wall-clock time.
type AuctionClock struct {
	clock clock.Clock
}

func NewAuctionClock(clk clock.Clock) AuctionClock {
	return AuctionClock{clock: clk}
}

// Remaining is the time left until the auction ends, floored at zero.
// Buy-now zones have no window and always report zero.
func (c AuctionClock) Remaining(z domain.Zone) time.Duration {
	if !z.IsAuction() {
		return 0
	}
	left := z.AuctionEndsAt.Sub(c.clock.Now())
	if left < 0 {
		return 0
	}
	return left
}

// IsExpired reports whether an auction zone's window has closed. Buy-now
// zones never expire.
func (c AuctionClock) IsExpired(z domain.Zone) bool {
	return z.IsAuction() && c.Remaining(z) == 0
}

// ExpiredFor reports whether the auction closed at least grace ago.
func (c AuctionClock) ExpiredFor(z domain.Zone, grace time.Duration) bool {
	return z.IsAuction() && !c.clock.Now().Before(z.AuctionEndsAt.Add(grace))
}
