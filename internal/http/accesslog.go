package http

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// RequestIDHeader is echoed back to callers so support requests can be matched to logs.
const RequestIDHeader = "X-Request-Id"

// AccessLog attaches logger to each request context, assigns a request id and writes one
// log line per request once the response is complete.
func AccessLog(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return Chain(next,
			hlog.NewHandler(logger),
			hlog.RequestIDHandler("req_id", RequestIDHeader),
			hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
				event := hlog.FromRequest(r).Info()
				if status >= http.StatusInternalServerError {
					event = hlog.FromRequest(r).Error()
				}
				event.
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", status).
					Int("size", size).
					Dur("duration", duration).
					Str("client_ip", ClientIPFromContext(r.Context())).
					Msg("http request")
			}),
		)
	}
}

// SecurityHeaders sets the response headers every page and API response carries.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}
