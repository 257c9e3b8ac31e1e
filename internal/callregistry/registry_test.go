package callregistry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ClareAI/astra-voice-receptionist/internal/domain"
	"github.com/ClareAI/astra-voice-receptionist/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	bus := event.NewBus(time.Second)
	return New(nil, bus, 200*time.Millisecond, time.Hour)
}

func TestAdmitRejectsDuplicateCallControlID(t *testing.T) {
	r := newTestRegistry()
	_, ok1 := r.Admit("tenant-a", "call-1", "+15551110000", "+15551110001", domain.Caps{})
	require.True(t, ok1)

	_, ok2 := r.Admit("tenant-a", "call-1", "+15551110000", "+15551110001", domain.Caps{})
	assert.False(t, ok2, "duplicate call_control_id must not create a second session")
}

func TestDuplicateHangupProducesOneTerminalHook(t *testing.T) {
	r := newTestRegistry()

	var mu sync.Mutex
	var calls int
	done := make(chan struct{}, 1)
	r.OnTerminal(func(ctx context.Context, s *domain.CallSession) {
		mu.Lock()
		calls++
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	})

	r.Admit("tenant-a", "call-2", "+15551110000", "+15551110001", domain.Caps{})
	require.NoError(t, r.Dispatch("call-2", Event{Kind: EventHangup}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("terminal hook never fired")
	}

	// A duplicate hangup after termination must be absorbed as a no-op, not
	// rejected, and must not fire a second terminal hook.
	err := r.Dispatch("call-2", Event{Kind: EventHangup})
	assert.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls, "exactly one terminal hook invocation per call (spec.md §8 property 3)")
}
