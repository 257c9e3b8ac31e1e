// Package metrics exposes Prometheus collectors for the voice receptionist
// runtime, grounded on LumenPrima-tr-engine's internal/metrics/metrics.go
// (CounterVec/HistogramVec registered in an init(), an InstrumentHandler
// middleware, a statusWriter capturing status code and bytes written). The
// route-pattern label is adapted from chi's RouteContext to gorilla/mux's
// CurrentRoute, since the teacher routes with gorilla/mux.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "astra_voice"

// HTTP metrics (counter/histogram — incremented by InstrumentHandler).
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests processed.",
	}, []string{"method", "path_pattern", "status_code"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path_pattern"})
)

// Call lifecycle metrics (incremented directly by the call registry and
// capacity controller).
var (
	ActiveCalls = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_calls",
		Help:      "Number of calls currently admitted and not yet terminal.",
	})

	AdmissionDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "admission_decisions_total",
		Help:      "Admission controller decisions by tenant and outcome.",
	}, []string{"tenant_id", "decision"})

	CallDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "call_duration_seconds",
		Help:      "Terminal call duration in seconds.",
		Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"tenant_id"})

	MediaFramesDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "media_frames_dropped_total",
		Help:      "Inbound media frames dropped under backpressure.",
	}, []string{"call_control_id"})
)

// Workflow engine metrics.
var (
	WorkflowJobsEnqueuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "workflow_jobs_enqueued_total",
		Help:      "Workflow jobs enqueued, by trigger.",
	}, []string{"trigger"})

	WorkflowRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "workflow_runs_total",
		Help:      "Completed workflow runs, by terminal status.",
	}, []string{"status"})

	WorkflowJobRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "workflow_job_retries_total",
		Help:      "Workflow job retry attempts scheduled.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveCalls,
		AdmissionDecisionsTotal,
		CallDurationSeconds,
		MediaFramesDroppedTotal,
		WorkflowJobsEnqueuedTotal,
		WorkflowRunsTotal,
		WorkflowJobRetriesTotal,
	)
}

// InstrumentHandler returns middleware that records HTTP request metrics.
// It uses gorilla/mux's route template as the path label to avoid
// cardinality explosion from path parameters.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r)

		pattern := "unknown"
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				pattern = tmpl
			}
		}
		method := r.Method
		status := strconv.Itoa(sw.status)
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(method, pattern, status).Inc()
		HTTPRequestDuration.WithLabelValues(method, pattern).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap supports http.ResponseController and middleware that check for
// wrapped writers (e.g. http.Flusher for SSE streaming).
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
