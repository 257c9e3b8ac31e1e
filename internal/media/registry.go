package media

import "sync"

// StreamRegistry tracks live media Streams by call_control_id so the
// graceful shutdown supervisor can force-close anything still attached once
// the drain deadline passes (spec.md §4.J "force-close remaining media
// transports"). Grounded on the same single-mutex-map shape as
// internal/callregistry/registry.go, scaled down to this package's needs.
type StreamRegistry struct {
	mu      sync.Mutex
	streams map[string]*Stream
}

// NewStreamRegistry constructs an empty StreamRegistry.
func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{streams: make(map[string]*Stream)}
}

// Register tracks a stream for the duration of a call.
func (r *StreamRegistry) Register(callControlID string, s *Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[callControlID] = s
}

// Unregister stops tracking a call's stream, typically once it closes
// naturally.
func (r *StreamRegistry) Unregister(callControlID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, callControlID)
}

// Len reports how many streams are currently tracked.
func (r *StreamRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// CloseAll force-closes every tracked stream and clears the registry.
func (r *StreamRegistry) CloseAll() {
	r.mu.Lock()
	streams := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		streams = append(streams, s)
	}
	r.streams = make(map[string]*Stream)
	r.mu.Unlock()

	for _, s := range streams {
		s.Close()
	}
}
