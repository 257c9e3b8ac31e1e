// Package callregistry is the Call Registry & State Machine (spec.md §4.D):
// the sole owner of each call's session record, serialising mutations
// through a per-call single-writer actor. The registry-of-actors shape is
// grounded on the teacher's internal/core/session/manager.go (a Redis-backed
// registry of live sessions) generalised to an in-process actor model.
package callregistry

import (
	"context"
	"sync"
	"time"

	"github.com/ClareAI/astra-voice-receptionist/internal/apperr"
	"github.com/ClareAI/astra-voice-receptionist/internal/capacity"
	"github.com/ClareAI/astra-voice-receptionist/internal/domain"
	"github.com/ClareAI/astra-voice-receptionist/internal/event"
	"github.com/ClareAI/astra-voice-receptionist/pkg/logger"
	"github.com/ClareAI/astra-voice-receptionist/pkg/metrics"
	"go.uber.org/zap"
)

// TerminalHook is invoked once, exactly when a session reaches a terminal
// state, so the Call History & Analytics component (§4.I) and the event bus
// (§4.H) can react without the registry importing either.
type TerminalHook func(ctx context.Context, s *domain.CallSession)

// Registry owns every live call session and dispatches events to the
// correct per-call actor.
type Registry struct {
	capacity *capacity.Controller
	bus      event.Bus

	mu      sync.RWMutex
	actors  map[string]*actor

	onTerminal []TerminalHook

	answerTimeout time.Duration
	deadAir       time.Duration
}

// New constructs a Registry. answerTimeout bounds time between `initiated`
// and `answered`; deadAir is DEAD_AIR_MS (spec.md §6).
func New(capacityCtl *capacity.Controller, bus event.Bus, answerTimeout, deadAir time.Duration) *Registry {
	return &Registry{
		capacity:      capacityCtl,
		bus:           bus,
		actors:        make(map[string]*actor),
		answerTimeout: answerTimeout,
		deadAir:       deadAir,
	}
}

// OnTerminal registers a hook invoked once per session reaching ended/failed.
func (r *Registry) OnTerminal(hook TerminalHook) {
	r.onTerminal = append(r.onTerminal, hook)
}

// Admit creates a session for a freshly admitted call, starting its actor.
// Duplicate calls with the same callControlID are discarded as retries
// (spec.md §4.D "Idempotency").
func (r *Registry) Admit(tenantID, callControlID, callerID, calledNumber string, caps domain.Caps) (*domain.CallSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actors[callControlID]; exists {
		return nil, false
	}

	session := &domain.CallSession{
		CallControlID: callControlID,
		TenantID:      tenantID,
		CallerID:      callerID,
		CalledNumber:  calledNumber,
		State:         domain.CallStateInitiated,
		CreatedAt:     time.Now(),
		VoiceMode:     domain.VoiceModePreset,
		RNGSeed:       time.Now().UnixNano(),
	}

	a := newActor(session, r)
	r.actors[callControlID] = a
	a.start(r.answerTimeout)
	metrics.ActiveCalls.Inc()

	return session, true
}

// Fail logs a rejected admission for callControlID (no capacity was
// reserved). It creates no session record and starts no actor, so Get and
// Dispatch do not find the call afterwards and no failed state or cause is
// stored for it.
func (r *Registry) Fail(tenantID, callControlID, cause string) {
	logger.Base().Info("call rejected before admission",
		zap.String("tenant_id", tenantID), zap.String("call_control_id", callControlID), zap.String("cause", cause))
}

// Dispatch delivers an inbound provider/media event to the named call's
// actor, serialised with every other event for that call (spec.md §4.D
// "single-writer").
func (r *Registry) Dispatch(callControlID string, evt Event) error {
	r.mu.RLock()
	a, ok := r.actors[callControlID]
	r.mu.RUnlock()
	if !ok {
		return apperr.New(apperr.NotFound, "unknown call_control_id")
	}
	a.enqueue(evt)
	return nil
}

// Get returns a point-in-time snapshot of the session, or false if unknown.
func (r *Registry) Get(callControlID string) (domain.CallSession, bool) {
	r.mu.RLock()
	a, ok := r.actors[callControlID]
	r.mu.RUnlock()
	if !ok {
		return domain.CallSession{}, false
	}
	return a.snapshot(), true
}

// Reap stops and drops every actor that has been terminal for at least
// minAge, bounding how long a duplicate terminal event can still be
// absorbed before the call is forgotten entirely.
func (r *Registry) Reap(minAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	reaped := 0
	for id, a := range r.actors {
		a.mu.RLock()
		terminatedAt := a.terminatedAt
		a.mu.RUnlock()
		if terminatedAt.IsZero() || time.Since(terminatedAt) < minAge {
			continue
		}
		a.stop()
		delete(r.actors, id)
		reaped++
	}
	return reaped
}

// runTerminalHooks invokes every registered hook for a session that just
// reached a terminal state.
func (r *Registry) runTerminalHooks(ctx context.Context, s *domain.CallSession) {
	metrics.ActiveCalls.Dec()
	metrics.CallDurationSeconds.WithLabelValues(s.TenantID).Observe(float64(s.DurationMS()) / 1000.0)
	for _, hook := range r.onTerminal {
		hook(ctx, s)
	}
}

// ActiveCount reports the number of live (non-terminal) calls, used by
// health/metrics reporting and the shutdown supervisor (§4.J).
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, a := range r.actors {
		if !a.isTerminal() {
			n++
		}
	}
	return n
}

// Snapshot returns every live session, used by the shutdown supervisor to
// force-close remaining calls.
func (r *Registry) Snapshot() []domain.CallSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.CallSession, 0, len(r.actors))
	for _, a := range r.actors {
		out = append(out, a.snapshot())
	}
	return out
}
