package shield

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/arancel/idgen"
	"github.com/hazyhaar/arancel/kit"
)

var newRequestID = idgen.Prefixed("req_", idgen.Default)

// RequestContext tags each request with an ID (reusing a client-supplied
// X-Request-ID), marks the transport as http, echoes the ID in the
// response and logs the request once it completes.
func RequestContext(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" || len(id) > 128 {
				id = newRequestID()
			}
			w.Header().Set("X-Request-ID", id)

			ctx := kit.WithTransport(r.Context(), "http")
			ctx = kit.WithRequestID(ctx, id)
			ctx = kit.WithRemoteAddr(ctx, r.RemoteAddr)

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(sw, r.WithContext(ctx))
			logger.InfoContext(ctx, "shield: request",
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
