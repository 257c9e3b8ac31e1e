// Package webhook is the Webhook Ingress component (spec.md §4.C): HMAC
// verification of provider webhooks and event routing to the Call Registry.
// Signature verification is grounded on the teacher's
// verifyWebhookSignature in internal/handler/wati_webhook_handler.go
// (HMAC-SHA256, "sha256=" prefix stripping, hmac.Equal constant-time
// compare), generalised to Telnyx's timestamped signature scheme and a
// per-tenant secret resolved through the Tenant Config Store Adapter.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ClareAI/astra-voice-receptionist/internal/apperr"
	"github.com/ClareAI/astra-voice-receptionist/internal/callregistry"
	"github.com/ClareAI/astra-voice-receptionist/internal/capacity"
	"github.com/ClareAI/astra-voice-receptionist/internal/tenantconfig"
	"github.com/ClareAI/astra-voice-receptionist/pkg/logger"
	"go.uber.org/zap"
)

// Payload is the subset of a Telnyx webhook body the ingress understands
// (spec.md §4.C).
type Payload struct {
	Data struct {
		EventType string `json:"event_type"`
		Payload   struct {
			CallControlID string `json:"call_control_id"`
			To            string `json:"to"`
			From          string `json:"from"`
			ClientState   string `json:"client_state"`
		} `json:"payload"`
	} `json:"data"`
}

// Handler is the Telnyx webhook HTTP endpoint.
type Handler struct {
	store           *tenantconfig.Store
	capacity        *capacity.Controller
	registry        *callregistry.Registry
	verifySignatures bool
	skew            time.Duration
	accepting       atomic.Bool

	mu          sync.Mutex
	callTenant  map[string]string // call_control_id -> tenant_id, for events after call.initiated
	recentCalls map[string]time.Time
}

// StopAccepting makes ServeHTTP reject new webhooks with 503, the first
// step of graceful shutdown (spec.md §4.J). Already-admitted calls continue
// to receive their in-flight events normally.
func (h *Handler) StopAccepting() {
	h.accepting.Store(false)
}

// New constructs a webhook Handler.
func New(store *tenantconfig.Store, capacityCtl *capacity.Controller, registry *callregistry.Registry, verifySignatures bool, skew time.Duration) *Handler {
	h := &Handler{
		store:            store,
		capacity:         capacityCtl,
		registry:         registry,
		verifySignatures: verifySignatures,
		skew:             skew,
		callTenant:       make(map[string]string),
		recentCalls:      make(map[string]time.Time),
	}
	h.accepting.Store(true)
	return h
}

// ServeHTTP implements POST /v1/telnyx/webhook (spec.md §6).
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.accepting.Load() {
		http.Error(w, "service is shutting down", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "malformed json", http.StatusBadRequest)
		return
	}

	callID := payload.Data.Payload.CallControlID

	tenantID, secret, err := h.resolveTenantAndSecret(r.Context(), payload)
	if err != nil {
		writeAppErr(w, err)
		return
	}

	if h.verifySignatures {
		if !h.verifySignature(r, body, secret) {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	switch payload.Data.EventType {
	case "call.initiated":
		h.handleInitiated(r.Context(), tenantID, payload)
	case "call.answered":
		h.registry.Dispatch(callID, callregistry.Event{Kind: callregistry.EventAnswered})
	case "call.hangup":
		h.registry.Dispatch(callID, callregistry.Event{Kind: callregistry.EventHangup})
	case "call.playback.started":
		h.registry.Dispatch(callID, callregistry.Event{Kind: callregistry.EventPlaybackStarted})
	case "call.playback.ended":
		h.registry.Dispatch(callID, callregistry.Event{Kind: callregistry.EventPlaybackEnded})
	case "call.transfer.answered":
		h.registry.Dispatch(callID, callregistry.Event{Kind: callregistry.EventTransferAnswered})
	default:
		// Unknown events return 200 with no side effect (spec.md §4.C).
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) handleInitiated(ctx context.Context, tenantID string, payload Payload) {
	callID := payload.Data.Payload.CallControlID

	h.mu.Lock()
	if _, seen := h.recentCalls[callID]; seen {
		h.mu.Unlock()
		return // duplicate call.initiated, discarded as a retry (spec.md §4.D)
	}
	h.recentCalls[callID] = time.Now()
	h.callTenant[callID] = tenantID
	h.mu.Unlock()

	cfg, err := h.store.LoadConfig(ctx, tenantID)
	if err != nil {
		logger.Base().Warn("failed to load tenant config at call.initiated", zap.String("tenant_id", tenantID), zap.Error(err))
		return
	}

	decision, err := h.capacity.TryReserve(ctx, tenantID, cfg.Caps)
	if err != nil {
		logger.Base().Error("capacity reserve failed", zap.String("tenant_id", tenantID), zap.Error(err))
		h.registry.Fail(tenantID, callID, "capacity_store_unavailable")
		return
	}
	if decision != capacity.Admitted {
		h.registry.Fail(tenantID, callID, string(decision))
		return
	}

	h.registry.Admit(tenantID, callID, payload.Data.Payload.From, payload.Data.Payload.To, cfg.Caps)
}

// resolveTenantAndSecret binds the webhook to a tenant: for call.initiated,
// by DID lookup; for subsequent events, by the tenant recorded at
// call.initiated (spec.md §4.C).
func (h *Handler) resolveTenantAndSecret(ctx context.Context, payload Payload) (tenantID, secret string, err error) {
	callID := payload.Data.Payload.CallControlID

	if payload.Data.EventType == "call.initiated" {
		tenantID, err = h.store.LookupDID(ctx, payload.Data.Payload.To)
		if err != nil {
			return "", "", err
		}
	} else {
		h.mu.Lock()
		tenantID = h.callTenant[callID]
		h.mu.Unlock()
		if tenantID == "" {
			return "", "", apperr.New(apperr.NotFound, "unknown call")
		}
	}

	cfg, err := h.store.LoadConfig(ctx, tenantID)
	if err != nil {
		return "", "", err
	}
	return tenantID, cfg.WebhookSecret, nil
}

// verifySignature checks an HMAC-SHA256 signature over the raw body using
// the tenant's webhook secret, and that the accompanying timestamp is
// within the configured skew (spec.md §4.C).
func (h *Handler) verifySignature(r *http.Request, body []byte, secret string) bool {
	if secret == "" {
		logger.Base().Warn("no webhook secret resolved for tenant; rejecting signed webhook")
		return false
	}

	tsHeader := r.Header.Get("telnyx-timestamp")
	if tsHeader != "" {
		ts, err := strconv.ParseInt(tsHeader, 10, 64)
		if err != nil {
			return false
		}
		if h.skew > 0 {
			delta := time.Since(time.Unix(ts, 0))
			if delta < 0 {
				delta = -delta
			}
			if delta > h.skew {
				return false
			}
		}
	}

	signature := strings.TrimPrefix(r.Header.Get("telnyx-signature"), "sha256=")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}

func writeAppErr(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	http.Error(w, fmt.Sprintf(`{"error":"%s"}`, err.Error()), code.HTTPStatus())
}
