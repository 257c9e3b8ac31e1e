package callregistry

import (
	"context"
	"sync"
	"time"

	"github.com/ClareAI/astra-voice-receptionist/internal/domain"
	"github.com/ClareAI/astra-voice-receptionist/internal/event"
)

// EventKind distinguishes inbound events the actor understands.
type EventKind string

const (
	EventAnswered        EventKind = "answered"
	EventMediaOpen       EventKind = "media_open"
	EventHangup          EventKind = "hangup"
	EventPlaybackStarted EventKind = "playback_started"
	EventPlaybackEnded   EventKind = "playback_ended"
	EventTransferAnswered EventKind = "transfer_answered"
	EventTransferTimeout EventKind = "transfer_timeout"
	EventCallerTurn      EventKind = "caller_turn"
	EventAssistantTurn   EventKind = "assistant_turn"
	EventThinking        EventKind = "thinking"
	EventTransferStart   EventKind = "transfer_start"
	EventDeadAir         EventKind = "dead_air"
	EventAnswerTimeout   EventKind = "answer_timeout"
	EventFail            EventKind = "fail"
)

// Event is a single inbound instruction for a call's actor.
type Event struct {
	Kind  EventKind
	Turn  *domain.Turn
	Cause string
	Extra map[string]interface{}
}

// actor is the single-writer goroutine owning one call's session record
// (spec.md §4.D "Ownership"). It keeps running after reaching a terminal
// state so a late duplicate terminal event (e.g. a retried `call.hangup`)
// is absorbed as a no-op rather than rejected as unknown; Registry.Reap
// stops it once it has aged past cleanup.
type actor struct {
	registry *Registry

	mu      sync.RWMutex
	session domain.CallSession

	inbox chan Event
	quit  chan struct{}

	terminalOnce sync.Once
	terminatedAt time.Time

	timersMu sync.Mutex
	timers   map[string]*time.Timer
}

func newActor(session *domain.CallSession, r *Registry) *actor {
	return &actor{
		registry: r,
		session:  *session,
		inbox:    make(chan Event, 64),
		quit:     make(chan struct{}),
		timers:   make(map[string]*time.Timer),
	}
}

func (a *actor) start(answerTimeout time.Duration) {
	if answerTimeout > 0 {
		a.setTimer("answer", answerTimeout, func() {
			a.enqueue(Event{Kind: EventAnswerTimeout})
		})
	}
	go a.run()
}

func (a *actor) enqueue(evt Event) {
	select {
	case a.inbox <- evt:
	case <-a.quit:
	}
}

// stop terminates the actor's goroutine. Called only by Registry.Reap once
// the session has been terminal long enough that no further duplicate
// events are expected.
func (a *actor) stop() {
	close(a.quit)
}

func (a *actor) snapshot() domain.CallSession {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cp := a.session
	cp.History = append([]domain.Turn(nil), a.session.History...)
	return cp
}

func (a *actor) isTerminal() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session.State.Terminal()
}

func (a *actor) run() {
	for {
		select {
		case evt := <-a.inbox:
			a.handle(evt)
			if a.isTerminal() {
				a.stopAllTimers()
				a.runTerminalOnce()
			}
		case <-a.quit:
			return
		}
	}
}

// runTerminalOnce releases the call's capacity slots, then fires the
// registry's terminal hooks and the call_ended event, exactly once per call,
// even though the actor keeps running afterwards to absorb duplicate
// terminal events as no-ops (spec.md §4.D "Idempotency", §8 property 3).
func (a *actor) runTerminalOnce() {
	a.terminalOnce.Do(func() {
		snap := a.snapshot()

		if a.registry.capacity != nil && !snap.CapacityReleased {
			a.registry.capacity.Release(context.Background(), snap.TenantID)
			snap.CapacityReleased = true
		}

		a.mu.Lock()
		a.terminatedAt = time.Now()
		a.session.CapacityReleased = snap.CapacityReleased
		a.mu.Unlock()

		a.registry.runTerminalHooks(context.Background(), &snap)
		a.registry.bus.Publish(&event.CallEvent{
			Kind:       event.KindCallEnded,
			TenantID:   snap.TenantID,
			CallID:     snap.CallControlID,
			Session:    &snap,
			Transcript: snap.Transcript(),
			At:         time.Now(),
		})
	})
}

func (a *actor) handle(evt Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session.State.Terminal() {
		// Duplicate events after termination are absorbed (spec.md §4.D
		// "Idempotency"): already ended/failed, nothing left to do.
		return
	}

	switch evt.Kind {
	case EventAnswerTimeout:
		if a.session.State == domain.CallStateInitiated {
			a.fail("answer_timeout")
		}
	case EventAnswered:
		a.clearTimer("answer")
		a.session.State = domain.CallStateAnswered
		a.session.AnsweredAt = time.Now()
	case EventMediaOpen:
		a.session.State = domain.CallStateMediaConnected
		a.resetDeadAir()
	case EventCallerTurn:
		if evt.Turn != nil {
			a.session.History = append(a.session.History, *evt.Turn)
		}
		a.session.State = domain.CallStateListening
		a.resetDeadAir()
	case EventThinking:
		a.session.State = domain.CallStateThinking
	case EventAssistantTurn:
		if evt.Turn != nil {
			a.session.History = append(a.session.History, *evt.Turn)
		}
		a.session.State = domain.CallStateSpeaking
	case EventPlaybackStarted:
		a.session.State = domain.CallStateSpeaking
	case EventPlaybackEnded:
		a.session.State = domain.CallStateListening
		a.resetDeadAir()
	case EventTransferStart:
		a.session.State = domain.CallStateTransferring
		if evt.Extra != nil {
			if to, ok := evt.Extra["to"].(string); ok {
				a.session.TransferTarget = to
			}
		}
	case EventTransferAnswered:
		a.session.State = domain.CallStateTransferring
	case EventTransferTimeout:
		a.session.State = domain.CallStateListening
		a.resetDeadAir()
	case EventDeadAir:
		a.endGracefully()
	case EventHangup:
		a.endGracefully()
	case EventFail:
		a.fail(evt.Cause)
	}
}

// endGracefully transitions to the terminal `ended` state.
func (a *actor) endGracefully() {
	a.session.State = domain.CallStateEnded
	a.session.EndedAt = time.Now()
}

// fail transitions to the terminal `failed` state, recording cause.
func (a *actor) fail(cause string) {
	a.session.State = domain.CallStateFailed
	a.session.EndedAt = time.Now()
	a.session.FailureCause = cause
}

func (a *actor) resetDeadAir() {
	// Re-armed on every caller-audio or playback-boundary event; fires
	// EventDeadAir if DEAD_AIR_MS elapses without another such event
	// (spec.md §4.F "dead_air timer").
	deadAir := a.registry.deadAir
	if deadAir <= 0 {
		return
	}
	a.setTimer("dead_air", deadAir, func() {
		a.enqueue(Event{Kind: EventDeadAir})
	})
}

func (a *actor) setTimer(name string, d time.Duration, fn func()) {
	a.timersMu.Lock()
	defer a.timersMu.Unlock()
	a.setTimerLocked(name, d, fn)
}

func (a *actor) setTimerLocked(name string, d time.Duration, fn func()) {
	if existing, ok := a.timers[name]; ok {
		existing.Stop()
	}
	a.timers[name] = time.AfterFunc(d, fn)
}

func (a *actor) clearTimer(name string) {
	a.timersMu.Lock()
	defer a.timersMu.Unlock()
	if existing, ok := a.timers[name]; ok {
		existing.Stop()
		delete(a.timers, name)
	}
}

func (a *actor) stopAllTimers() {
	a.timersMu.Lock()
	defer a.timersMu.Unlock()
	for _, t := range a.timers {
		t.Stop()
	}
	a.timers = make(map[string]*time.Timer)
}
