package http

import (
	"context"
	"net/http"
	"strconv"
)

// Identity headers are set by the fronting auth proxy. The engine trusts them
// as-is.
const (
	headerUserID    = "X-User-ID"
	headerAdmin     = "X-User-Admin"
	headerSignature = "X-Signature"
)

type identityKey struct{}

type identity struct {
	UserID  string
	IsAdmin bool
}

// Identify copies the caller identity headers into the request context.
func Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := identity{UserID: r.Header.Get(headerUserID)}
		if v := r.Header.Get(headerAdmin); v != "" {
			id.IsAdmin, _ = strconv.ParseBool(v)
		}
		ctx := context.WithValue(r.Context(), identityKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFrom(ctx context.Context) identity {
	id, _ := ctx.Value(identityKey{}).(identity)
	return id
}

// requireUser writes a 401 and returns false when the caller is anonymous.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := identityFrom(r.Context())
	if id.UserID == "" {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "authentication required")
		return "", false
	}
	return id.UserID, true
}

// requireAdmin writes a 401 or 403 and returns false unless the caller is an
// authenticated administrator.
func requireAdmin(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := requireUser(w, r)
	if !ok {
		return "", false
	}
	if !identityFrom(r.Context()).IsAdmin {
		writeError(w, http.StatusForbidden, codeForbidden, "admin access required")
		return "", false
	}
	return userID, true
}
