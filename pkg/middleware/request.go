package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/iddaa-lens/redpacket/pkg/logger"
)

// RequestIDHeader carries the request id in and out
const RequestIDHeader = "X-Request-ID"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// RequestLogger tags each request with an id, stores a request-scoped logger
// in the context and logs completion
func RequestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			w.Header().Set(RequestIDHeader, requestID)

			reqLogger := log.WithRequestID(requestID)
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(reqLogger.ToContext(r.Context())))

			reqLogger.Debug().
				Str("action", "http_request").
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status_code", rec.status).
				Dur("duration", time.Since(start)).
				Msg("Request completed")
		})
	}
}
