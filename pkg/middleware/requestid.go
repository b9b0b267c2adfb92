package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/vortexhq/vortex/pkg/observability"
)

// RequestID attaches a request id to the context and response headers,
// honoring an inbound X-Request-ID when present.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		w.Header().Set("X-Request-ID", requestID)
		ctx := observability.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Instrument logs each request and records HTTP metrics. metrics may be
// nil.
func Instrument(logger *observability.Logger, metrics *observability.Metrics) mux.MiddlewareFunc {
	logger = logger.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			duration := time.Since(start)
			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					path = tpl
				}
			}

			if metrics != nil {
				metrics.ObserveRequest(r.Method, path, rec.status, duration)
			}

			logger.WithFields(map[string]interface{}{
				"method":     r.Method,
				"path":       path,
				"status":     rec.status,
				"duration":   duration.String(),
				"request_id": observability.GetRequestID(r.Context()),
			}).Info("request handled")
		})
	}
}
