package http

import (
	"context"
	"log/slog"
	stdhttp "net/http"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports basic liveness for the service.
func HealthHandler(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(stdhttp.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadyHandler reports readiness: the store must answer a ping.
func ReadyHandler(store Pinger, logger *slog.Logger) stdhttp.HandlerFunc {
	return func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		if err := store.Ping(r.Context()); err != nil {
			logger.Warn("readiness check failed", "error", err)
			w.Header().Set("Retry-After", retryAfterSeconds)
			writeError(w, stdhttp.StatusServiceUnavailable, codeStorageUnavailable, "storage unavailable")
			return
		}
		HealthHandler(w, r)
	}
}
