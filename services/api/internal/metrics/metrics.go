// Package metrics holds the engine's Prometheus instruments.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BidSubmissions counts bid submissions by outcome
	// (admitted, too_low, closed, not_active, contention, error).
	BidSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pixelgrid_bid_submissions_total",
		Help: "Bid submissions by outcome",
	}, []string{"outcome"})

	BidCASConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pixelgrid_bid_cas_conflicts_total",
		Help: "Compare-and-set conflicts on a zone's current bid",
	})

	BidAdmissionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pixelgrid_bid_admission_duration_seconds",
		Help:    "Time spent admitting a bid, including retries",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
	})

	Reconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pixelgrid_payment_reconciliations_total",
		Help: "Payment confirmations by outcome",
	}, []string{"outcome"})

	ModerationDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pixelgrid_moderation_decisions_total",
		Help: "Moderation decisions by resulting state",
	}, []string{"state"})

	ZonesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pixelgrid_zones_expired_total",
		Help: "Auction zones finalized as expired by the sweeper",
	})

	NotifyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pixelgrid_notify_failures_total",
		Help: "Notifications that could not be delivered",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pixelgrid_http_requests_total",
		Help: "HTTP requests by method and status code",
	}, []string{"method", "code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pixelgrid_http_request_duration_seconds",
		Help:    "HTTP request latency by method",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
