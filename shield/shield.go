// CLAUDE:SUMMARY HTTP middleware for the lookup API: security headers, read-only method guard, request IDs and access logging.
// Package shield provides the HTTP middleware stack of the lookup API:
// security headers, a read-only method guard, request IDs and access
// logging.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(logger) {
//	    r.Use(mw)
//	}
package shield

import (
	"log/slog"
	"net/http"
)

// APIStack returns the standard middleware stack for a read-only JSON API.
// Middleware is ordered: SecurityHeaders → RequestContext → ReadOnly.
func APIStack(logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		SecurityHeaders(DefaultHeaders()),
		RequestContext(logger),
		ReadOnly,
	}
}

// ReadOnly admits GET and HEAD only; anything else gets 405 with an Allow
// header. HEAD is served by the GET route; net/http drops the body.
func ReadOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
		case http.MethodHead:
			r.Method = http.MethodGet
		default:
			w.Header().Set("Allow", "GET, HEAD")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusMethodNotAllowed)
			w.Write([]byte(`{"error":"method not allowed"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
