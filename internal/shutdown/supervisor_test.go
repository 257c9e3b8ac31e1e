package shutdown

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeWebhookStopper struct {
	stopped bool
}

func (f *fakeWebhookStopper) StopAccepting() { f.stopped = true }

type fakeQueueFlusher struct {
	flushed bool
}

func (f *fakeQueueFlusher) PromoteDue(ctx context.Context) error {
	f.flushed = true
	return nil
}

func TestShutdownStopsAcceptingAndFlushesQueue(t *testing.T) {
	webhook := &fakeWebhookStopper{}
	queue := &fakeQueueFlusher{}

	s := New(webhook, nil, nil, nil, queue, nil, 100*time.Millisecond)
	s.Shutdown(context.Background())

	assert.True(t, webhook.stopped)
	assert.True(t, queue.flushed)
}

func TestDrainCallsReturnsImmediatelyWithNilRegistry(t *testing.T) {
	s := New(nil, nil, nil, nil, nil, nil, 50*time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.drainCalls(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("drainCalls did not return promptly with a nil registry")
	}
}
