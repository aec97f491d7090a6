package http

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
)

// Services bundles what the router dispatches to. Store and Metrics are
// optional; nil skips /ready and /metrics.
type Services struct {
	Zones      ZoneReader
	Admin      ZoneAdmin
	Bids       BidSubmitter
	Payments   CheckoutReconciler
	Moderation BidModerator
	Clock      RemainingClock
	Store      Pinger
	Metrics    http.Handler
}

// CheckoutReconciler covers both the checkout and webhook sides of payments.
type CheckoutReconciler interface {
	CheckoutStarter
	PaymentReconciler
}

type RouterOptions struct {
	CORSOrigins []string
	Logger      *slog.Logger
}

// NewRouter wires every route and wraps them with identity, CORS and request
// logging, outermost last.
func NewRouter(svc Services, opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := mux.NewRouter()
	router.NotFoundHandler = NotFoundHandler()
	router.MethodNotAllowedHandler = MethodNotAllowedHandler()

	router.HandleFunc("/health", HealthHandler).Methods(http.MethodGet)
	if svc.Store != nil {
		router.HandleFunc("/ready", ReadyHandler(svc.Store, logger)).Methods(http.MethodGet)
	}
	if svc.Metrics != nil {
		router.Handle("/metrics", svc.Metrics).Methods(http.MethodGet)
	}

	router.HandleFunc("/zones", HandleListZones(svc.Zones, svc.Clock, logger)).Methods(http.MethodGet)
	router.HandleFunc("/zones/{id}", HandleGetZone(svc.Zones, svc.Clock, logger)).Methods(http.MethodGet)
	router.HandleFunc("/zones/{id}/bids", HandleListBids(svc.Bids, logger)).Methods(http.MethodGet)
	router.HandleFunc("/zones/{id}/bids", HandleSubmitBid(svc.Bids, logger)).Methods(http.MethodPost)
	router.HandleFunc("/zones/{id}/checkout", HandleCheckout(svc.Payments, logger)).Methods(http.MethodPost)
	router.HandleFunc("/payments/webhook", HandlePaymentWebhook(svc.Payments, logger)).Methods(http.MethodPost)

	admin := router.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/zones", HandleCreateZone(svc.Admin, svc.Clock, logger)).Methods(http.MethodPost)
	admin.HandleFunc("/zones/{id}", HandleDeleteZone(svc.Admin, logger)).Methods(http.MethodDelete)
	admin.HandleFunc("/bids/{id}/moderation", HandleModerateBid(svc.Moderation, logger)).Methods(http.MethodPost)

	var handler http.Handler = router
	handler = Identify(handler)
	handler = CORS(opts.CORSOrigins, handler)
	handler = RequestLogger(handler, logger)
	return handler
}
