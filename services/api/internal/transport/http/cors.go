package http

import (
	"net/http"
	"slices"
	"strings"
)

// corsMaxAge lets browsers cache a preflight answer for ten minutes.
const corsMaxAge = "600"

var (
	corsMethods       = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	corsAllowHeaders  = strings.Join([]string{"Content-Type", headerUserID, headerAdmin, headerSignature, headerRequestID}, ", ")
	corsExposeHeaders = strings.Join([]string{"Retry-After", headerRequestID}, ", ")
)

type corsPolicy struct {
	anyOrigin bool
	origins   map[string]bool
}

func newCORSPolicy(allowedOrigins []string) corsPolicy {
	p := corsPolicy{origins: make(map[string]bool, len(allowedOrigins))}
	for _, origin := range allowedOrigins {
		switch origin = strings.TrimSpace(origin); origin {
		case "":
		case "*":
			p.anyOrigin = true
		default:
			p.origins[origin] = true
		}
	}
	return p
}

func (p corsPolicy) allows(origin string) bool {
	return p.anyOrigin || p.origins[origin]
}

func (p corsPolicy) setOrigin(h http.Header, origin string) {
	if p.anyOrigin {
		h.Set("Access-Control-Allow-Origin", "*")
		return
	}
	h.Set("Access-Control-Allow-Origin", origin)
	h.Add("Vary", "Origin")
}

// preflight answers an OPTIONS probe. Unknown origins and methods the API
// does not serve get a 403.
func (p corsPolicy) preflight(w http.ResponseWriter, origin, method string) {
	if !p.allows(origin) || !slices.Contains(corsMethods, method) {
		writeError(w, http.StatusForbidden, codeForbidden, "forbidden")
		return
	}
	h := w.Header()
	p.setOrigin(h, origin)
	h.Set("Access-Control-Allow-Methods", strings.Join(corsMethods, ", "))
	h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
	h.Set("Access-Control-Max-Age", corsMaxAge)
	w.WriteHeader(http.StatusNoContent)
}

// CORS applies the origin allow-list. Requests from other origins still
// reach next, without CORS headers, so the browser blocks the response.
func CORS(allowedOrigins []string, next http.Handler) http.Handler {
	policy := newCORSPolicy(allowedOrigins)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}
		if method := r.Header.Get("Access-Control-Request-Method"); r.Method == http.MethodOptions && method != "" {
			policy.preflight(w, origin, method)
			return
		}
		if policy.allows(origin) {
			policy.setOrigin(w.Header(), origin)
			w.Header().Set("Access-Control-Expose-Headers", corsExposeHeaders)
		}
		next.ServeHTTP(w, r)
	})
}
