// Package event is a generic pub/sub bus, adapted from the teacher's
// internal/core/event/bus.go (ConnectionEvent-keyed) into a single
// CallEvent type carrying the session and a trigger kind, the shape the
// Workflow Engine's trigger matcher (spec.md §4.H) consumes.
package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClareAI/astra-voice-receptionist/internal/domain"
	"github.com/ClareAI/astra-voice-receptionist/pkg/logger"
	"go.uber.org/zap"
)

// Kind is the event's type tag.
type Kind string

const (
	KindCallEnded Kind = "call_ended"
)

// CallEvent is published once per terminal call, carrying enough of the
// session for trigger matching and step templating (spec.md §4.H).
type CallEvent struct {
	Kind      Kind
	TenantID  string
	CallID    string
	Session   *domain.CallSession
	Transcript string
	At        time.Time
}

// Handler processes one published event.
type Handler func(event *CallEvent)

// Middleware wraps a Handler, e.g. for logging or panic-shielding.
type Middleware func(next Handler) Handler

// Bus is the pub/sub interface the Workflow Engine subscribes against.
type Bus interface {
	Publish(event *CallEvent) error
	Subscribe(kind Kind, handler Handler)
	Use(middleware Middleware)
	Close()
}

// DefaultBus dispatches handlers asynchronously with panic recovery and a
// per-handler timeout, grounded on the teacher's DefaultEventBus.
type DefaultBus struct {
	mu          sync.RWMutex
	subscribers map[Kind][]Handler
	middleware  []Middleware
	ctx         context.Context
	cancel      context.CancelFunc
	timeout     time.Duration
}

// NewBus constructs a Bus whose handlers are given handlerTimeout to
// complete before being abandoned (not cancelled — Go has no handler
// preemption, so a runaway handler just stops being waited on).
func NewBus(handlerTimeout time.Duration) *DefaultBus {
	ctx, cancel := context.WithCancel(context.Background())
	if handlerTimeout <= 0 {
		handlerTimeout = 30 * time.Second
	}
	return &DefaultBus{
		subscribers: make(map[Kind][]Handler),
		ctx:         ctx,
		cancel:      cancel,
		timeout:     handlerTimeout,
	}
}

func (b *DefaultBus) Publish(evt *CallEvent) error {
	select {
	case <-b.ctx.Done():
		return fmt.Errorf("event bus is closed")
	default:
	}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[evt.Kind]...)
	middleware := append([]Middleware(nil), b.middleware...)
	b.mu.RUnlock()

	for _, h := range handlers {
		go b.dispatch(h, middleware, evt)
	}
	return nil
}

func (b *DefaultBus) dispatch(h Handler, middleware []Middleware, evt *CallEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.Base().Error("event handler panic", zap.String("kind", string(evt.Kind)), zap.Any("panic", r))
		}
	}()

	final := h
	for i := len(middleware) - 1; i >= 0; i-- {
		final = middleware[i](final)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		final(evt)
	}()

	select {
	case <-done:
	case <-time.After(b.timeout):
		logger.Base().Warn("event handler timed out", zap.String("kind", string(evt.Kind)), zap.String("call_id", evt.CallID))
	case <-b.ctx.Done():
	}
}

func (b *DefaultBus) Subscribe(kind Kind, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[kind] = append(b.subscribers[kind], handler)
}

func (b *DefaultBus) Use(middleware Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, middleware)
}

func (b *DefaultBus) Close() {
	b.cancel()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = make(map[Kind][]Handler)
}
