// Package httpapi wires the process's HTTP surface (spec.md §6 "HTTP
// routes"): health checks, metrics, the Telnyx webhook, and the media
// WebSocket upgrade, behind the teacher's logging/CORS middleware shape
// (internal/handler/middleware.go) generalised from gorilla/mux's chi-free
// routing already used by the teacher's cmd/server/main.go.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	voiceredis "github.com/ClareAI/astra-voice-receptionist/pkg/redis"
)

// OptionalCheck probes a best-effort upstream (whisper, tts) that degrades
// rather than fails the process when unreachable (spec.md §6 "GET /health").
type OptionalCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// HealthHandler serves /health/live, /health/ready and /health.
type HealthHandler struct {
	redisSvc  *voiceredis.RedisService
	started   time.Time
	optionals []OptionalCheck
}

// NewHealthHandler constructs a HealthHandler. optionals are probed only by
// the detailed /health endpoint; their failure degrades, never fails, the
// response.
func NewHealthHandler(redisSvc *voiceredis.RedisService, optionals ...OptionalCheck) *HealthHandler {
	return &HealthHandler{redisSvc: redisSvc, started: time.Now(), optionals: optionals}
}

// Live always answers 200 while the process is up (spec.md §6 "GET
// /health/live").
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready answers 200 only when the KV store is reachable, else 503 (spec.md
// §6 "GET /health/ready").
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.pingRedis(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type detailedHealth struct {
	Status        string            `json:"status"`
	Checks        map[string]string `json:"checks"`
	UptimeSeconds float64           `json:"uptime_seconds"`
}

// Detailed serves the full breakdown (spec.md §6 "GET /health"): unhealthy
// (503) if the KV store is down, degraded if an optional upstream is down,
// ok otherwise.
func (h *HealthHandler) Detailed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, 1+len(h.optionals))
	status := "ok"

	if err := h.pingRedis(ctx); err != nil {
		checks["redis"] = "down"
		status = "unhealthy"
	} else {
		checks["redis"] = "ok"
	}

	for _, opt := range h.optionals {
		if err := opt.Ping(ctx); err != nil {
			checks[opt.Name] = "down"
			if status == "ok" {
				status = "degraded"
			}
		} else {
			checks[opt.Name] = "ok"
		}
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, detailedHealth{
		Status:        status,
		Checks:        checks,
		UptimeSeconds: time.Since(h.started).Seconds(),
	})
}

func (h *HealthHandler) pingRedis(ctx context.Context) error {
	if h.redisSvc == nil {
		return nil
	}
	return h.redisSvc.Client().Ping(ctx).Err()
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// HTTPPing builds an OptionalCheck that probes baseURL with a HEAD request,
// used for the whisper/tts upstream checks (spec.md §6 "whisper?,tts?").
// Empty baseURL means the upstream isn't configured, so the check always
// passes: an unconfigured optional shouldn't show as degraded.
func HTTPPing(name, baseURL string) OptionalCheck {
	return OptionalCheck{
		Name: name,
		Ping: func(ctx context.Context) error {
			if baseURL == "" {
				return nil
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodHead, baseURL, nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			resp.Body.Close()
			return nil
		},
	}
}
