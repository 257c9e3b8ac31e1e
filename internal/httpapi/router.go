package httpapi

import (
	"net/http"
	"time"

	"github.com/ClareAI/astra-voice-receptionist/pkg/logger"
	"github.com/ClareAI/astra-voice-receptionist/pkg/metrics"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter assembles the process's full HTTP surface (spec.md §6 "HTTP
// routes"): health checks, Prometheus metrics, the Telnyx webhook, and the
// media WebSocket upgrade, under the teacher's global logging/CORS
// middleware (internal/handler/routes.go SetupAllRoutes, middleware.go).
func NewRouter(health *HealthHandler, webhook http.Handler, mediaHandler http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(globalLoggingMiddleware)
	r.Use(corsMiddleware)
	r.Use(metrics.InstrumentHandler)

	r.HandleFunc("/health/live", health.Live).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", health.Ready).Methods(http.MethodGet)
	r.HandleFunc("/health", health.Detailed).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.Handle("/v1/telnyx/webhook", webhook).Methods(http.MethodPost)
	r.Handle("/v1/telnyx/media/{call_control_id}", mediaHandler)

	return r
}

// globalLoggingMiddleware logs every request, adapted from the teacher's
// GlobalLoggingMiddleware (internal/handler/middleware.go).
func globalLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		logger.Base().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("status", wrapped.status),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

// corsMiddleware adds permissive CORS headers, adapted from the teacher's
// CORSMiddleware (internal/handler/middleware.go); this platform has no
// browser-facing API surface today, but webhook providers and operator
// tooling still benefit from consistent preflight handling.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, telnyx-signature, telnyx-timestamp")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusWriter captures the response status code for logging, mirroring
// the teacher's responseWriter (internal/handler/middleware.go).
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
