package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cimillas/pixelgrid/services/api/internal/domain"
)

const (
	codeMethodNotAllowed    = "method_not_allowed"
	codeNotFound            = "not_found"
	codeInvalidRequestBody  = "invalid_request_body"
	codeValidationFailed    = "validation_failed"
	codeUnauthorized        = "unauthorized"
	codeForbidden           = "forbidden"
	codeInvalidSignature    = "invalid_signature"
	codeInvalidID           = "invalid_id"
	codeInvalidInput        = "invalid_input"
	codeZoneNotFound        = "zone_not_found"
	codeBidNotFound         = "bid_not_found"
	codeTransactionNotFound = "transaction_not_found"
	codeZoneOverlap         = "zone_overlap"
	codeZoneInUse           = "zone_in_use"
	codeZoneNotActive       = "zone_not_active"
	codeZoneFinalized       = "zone_finalized"
	codeAuctionClosed       = "auction_closed"
	codeAuctionOpen         = "auction_open"
	codeBidTooLow           = "bid_too_low"
	codeInvalidTransition   = "invalid_transition"
	codeNotCurrentBidder    = "not_current_bidder"
	codeBidRejected         = "bid_rejected"
	codeSessionConflict     = "session_conflict"
	codeInvalidTxState      = "invalid_transaction_state"
	codeInvalidState        = "invalid_state"
	codePaymentMismatch     = "payment_mismatch"
	codeContention          = "contention"
	codeStorageUnavailable  = "storage_unavailable"
	codeInternalError       = "internal_error"
)

// retryAfterSeconds is sent with 503 responses for contention and storage outages.
const retryAfterSeconds = "1"

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(errorResponse{
		Error: msg,
		Code:  code,
	})
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var errorCodes = map[error]string{
	domain.ErrInvalidID:            codeInvalidID,
	domain.ErrZoneNotFound:         codeZoneNotFound,
	domain.ErrBidNotFound:          codeBidNotFound,
	domain.ErrTransactionNotFound:  codeTransactionNotFound,
	domain.ErrZoneOverlap:          codeZoneOverlap,
	domain.ErrZoneInUse:            codeZoneInUse,
	domain.ErrZoneNotActive:        codeZoneNotActive,
	domain.ErrZoneTerminal:         codeZoneFinalized,
	domain.ErrZoneAlreadyFinalized: codeZoneFinalized,
	domain.ErrAlreadyFinalized:     codeZoneFinalized,
	domain.ErrAuctionClosed:        codeAuctionClosed,
	domain.ErrAuctionOpen:          codeAuctionOpen,
	domain.ErrBidTooLow:            codeBidTooLow,
	domain.ErrInvalidTransition:    codeInvalidTransition,
	domain.ErrNotCurrentBidder:     codeNotCurrentBidder,
	domain.ErrBidRejected:          codeBidRejected,
	domain.ErrSessionConflict:      codeSessionConflict,
	domain.ErrInvalidTxState:       codeInvalidTxState,
	domain.ErrPaymentMismatch:      codePaymentMismatch,
}

// writeServiceError maps a service error to a status by its kind and to a
// stable code by its identity. Unknown errors are logged and reported as 500.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, code := classify(err)
	msg := err.Error()
	switch status {
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", retryAfterSeconds)
		if code == codeStorageUnavailable {
			logger.Warn("storage unavailable", "error", err)
			msg = "storage temporarily unavailable"
		}
	case http.StatusInternalServerError:
		logger.Error("request failed", "error", err)
		msg = "internal error"
	}
	writeError(w, status, code, msg)
}

func classify(err error) (int, string) {
	code := codeForError(err)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, code(codeNotFound)
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, code(codeInvalidInput)
	case errors.Is(err, domain.ErrMismatch):
		return http.StatusConflict, code(codePaymentMismatch)
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict, code(codeInvalidState)
	case errors.Is(err, domain.ErrContention):
		return http.StatusServiceUnavailable, codeContention
	case errors.Is(err, domain.ErrTransientStorage):
		return http.StatusServiceUnavailable, codeStorageUnavailable
	}
	return http.StatusInternalServerError, codeInternalError
}

func codeForError(err error) func(fallback string) string {
	return func(fallback string) string {
		for target, code := range errorCodes {
			if errors.Is(err, target) {
				return code
			}
		}
		return fallback
	}
}
