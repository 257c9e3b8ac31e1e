// Package shutdown is the Graceful Shutdown Supervisor (spec.md §4.J): on
// SIGTERM/SIGINT it stops taking new webhooks, drains in-flight calls up to
// a deadline, force-closes whatever media transports remain, flushes the
// workflow queue, releases any still-held capacity slots, and closes the KV
// store connection. The signal-handling shape is grounded on the
// context.WithCancel + signal.Notify pattern used throughout the retrieval
// pack's voice example servers (e.g.
// lookatitude-beluga-ai/examples/voice/twilio/webhook_server/main.go).
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ClareAI/astra-voice-receptionist/internal/callregistry"
	"github.com/ClareAI/astra-voice-receptionist/internal/capacity"
	"github.com/ClareAI/astra-voice-receptionist/internal/media"
	voiceredis "github.com/ClareAI/astra-voice-receptionist/pkg/redis"
	"github.com/ClareAI/astra-voice-receptionist/pkg/logger"
	"go.uber.org/zap"
)

// WebhookStopper is satisfied by the Webhook Ingress handler.
type WebhookStopper interface {
	StopAccepting()
}

// QueueFlusher is satisfied by the workflow job queue.
type QueueFlusher interface {
	PromoteDue(ctx context.Context) error
}

// Supervisor coordinates an orderly shutdown of every component that holds
// state or external connections.
type Supervisor struct {
	webhook      WebhookStopper
	registry     *callregistry.Registry
	streams      *media.StreamRegistry
	capacity     *capacity.Controller
	queue        QueueFlusher
	redisSvc     *voiceredis.RedisService
	drainTimeout time.Duration
}

// New constructs a Supervisor wiring every component the drain sequence
// touches.
func New(webhook WebhookStopper, registry *callregistry.Registry, streams *media.StreamRegistry, capacityCtl *capacity.Controller, queue QueueFlusher, redisSvc *voiceredis.RedisService, drainTimeout time.Duration) *Supervisor {
	return &Supervisor{
		webhook:      webhook,
		registry:     registry,
		streams:      streams,
		capacity:     capacityCtl,
		queue:        queue,
		redisSvc:     redisSvc,
		drainTimeout: drainTimeout,
	}
}

// WaitForSignal blocks until SIGTERM or SIGINT, then runs Shutdown, and
// returns once every step has completed.
func (s *Supervisor) WaitForSignal(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Base().Info("shutdown signal received", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	s.Shutdown(context.Background())
}

// Shutdown runs the drain sequence in order (spec.md §4.J):
//  1. stop accepting new webhooks
//  2. drain in-flight calls up to the drain timeout
//  3. force-close remaining media transports
//  4. move the workflow queue's delayed jobs that are already due (up to
//     100, KV-store tier only) into the ready queue
//  5. release any capacity slots still held by calls that didn't end cleanly
//  6. close the KV store connection
func (s *Supervisor) Shutdown(ctx context.Context) {
	if s.webhook != nil {
		s.webhook.StopAccepting()
		logger.Base().Info("webhook ingress stopped accepting new calls")
	}

	s.drainCalls(ctx)

	if s.streams != nil {
		remaining := s.streams.Len()
		s.streams.CloseAll()
		if remaining > 0 {
			logger.Base().Warn("force-closed media transports after drain deadline", zap.Int("count", remaining))
		}
	}

	if s.queue != nil {
		if err := s.queue.PromoteDue(ctx); err != nil {
			logger.Base().Warn("failed to flush workflow queue during shutdown", zap.Error(err))
		}
	}

	s.releaseHeldCapacity(ctx)

	if s.redisSvc != nil {
		if err := s.redisSvc.Client().Close(); err != nil {
			logger.Base().Warn("failed to close kv store connection", zap.Error(err))
		}
	}

	logger.Base().Info("graceful shutdown complete")
}

// drainCalls polls the call registry until it is empty or the drain
// timeout elapses, whichever comes first.
func (s *Supervisor) drainCalls(ctx context.Context) {
	if s.registry == nil {
		return
	}

	deadline := time.Now().Add(s.drainTimeout)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		active := s.registry.ActiveCount()
		if active == 0 {
			return
		}
		if time.Now().After(deadline) {
			logger.Base().Warn("drain deadline reached with calls still active", zap.Int("active_calls", active))
			return
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// releaseHeldCapacity releases the capacity slot for any call still present
// in the registry once the drain deadline has passed, so an ungracefully
// terminated call doesn't leak a reservation past process exit.
func (s *Supervisor) releaseHeldCapacity(ctx context.Context) {
	if s.capacity == nil || s.registry == nil {
		return
	}
	for _, session := range s.registry.Snapshot() {
		if session.CapacityReleased {
			continue
		}
		s.capacity.Release(ctx, session.TenantID)
	}
}
