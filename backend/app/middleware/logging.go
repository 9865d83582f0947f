package middleware

import (
	"context"
	"net/http"
	"time"

	"dutlab/backend/app/observability"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type statusWriter struct {
	http.ResponseWriter
	status int
	route  string
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) SetRoute(pattern string) { w.route = pattern }

// Logging tags each request with an id, logs it, and records HTTP metrics
// under the matched route pattern.
func Logging(log zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK, route: "unmatched"}
		ctx := context.WithValue(r.Context(), RequestIDKey, reqID)
		next.ServeHTTP(sw, r.WithContext(ctx))

		duration := time.Since(start)
		observability.RecordHTTPRequest(r.Method, sw.route, sw.status, duration)
		log.Info().Str("request_id", reqID).Str("ip", r.RemoteAddr).Str("method", r.Method).Str("path", r.URL.Path).Int("status", sw.status).Dur("duration", duration).Msg("request")
	})
}
