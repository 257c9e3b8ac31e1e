// Package media is the Media Transport component (spec.md §4.E): the
// bidirectional WebSocket frame channel between the telephony provider and
// the audio pipeline, including backpressure handling. gorilla/websocket is
// a direct dependency of the teacher's go.mod with no exercised call site in
// the teacher itself; this is its first use, in the idiom the library's own
// examples and the rest of the retrieval pack's websocket-handling code use
// (Upgrader + read/write pumps).
package media

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ClareAI/astra-voice-receptionist/pkg/logger"
	"github.com/ClareAI/astra-voice-receptionist/pkg/metrics"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// FrameType tags the three envelope shapes spec.md §4.E defines.
type FrameType string

const (
	FrameStart FrameType = "start"
	FrameMedia FrameType = "media"
	FrameStop  FrameType = "stop"
)

// MediaFormat describes the codec/rate contract of a media stream.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// Frame is the JSON envelope exchanged over the media WebSocket.
type Frame struct {
	Event          FrameType    `json:"event"`
	StreamID       string       `json:"stream_id,omitempty"`
	MediaFormat    *MediaFormat `json:"media_format,omitempty"`
	SequenceNumber int64        `json:"sequence_number,omitempty"`
	Payload        string       `json:"payload,omitempty"` // base64
}

const (
	frameDuration    = 20 * time.Millisecond
	inboundQueueSize = 100 // 2s of audio at 20ms/frame
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Stream is one call's attached media WebSocket connection.
type Stream struct {
	callControlID string
	conn          *websocket.Conn

	inbound  chan []byte // raw PCM, post-decode, at the codec's native rate
	outbound chan []byte // allocated but unused: WritePCM writes to conn directly

	droppedFrames uint64

	closed chan struct{}
}

// Accept upgrades the HTTP request to a WebSocket and validates the shared
// media-stream token query parameter (spec.md §6 "WebSocket: media").
func Accept(w http.ResponseWriter, r *http.Request, callControlID, expectedToken string) (*Stream, error) {
	token := r.URL.Query().Get("token")
	if expectedToken == "" || token != expectedToken {
		http.Error(w, "invalid media stream token", http.StatusUnauthorized)
		return nil, websocket.ErrBadHandshake
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	return &Stream{
		callControlID: callControlID,
		conn:          conn,
		inbound:       make(chan []byte, inboundQueueSize),
		outbound:      make(chan []byte, inboundQueueSize),
		closed:        make(chan struct{}),
	}, nil
}

// Inbound returns the channel of decoded PCM frames read from the caller.
func (s *Stream) Inbound() <-chan []byte { return s.inbound }

// Closed reports when the underlying connection has gone away.
func (s *Stream) Closed() <-chan struct{} { return s.closed }

// ReadLoop decodes incoming media frames and pushes PCM onto the bounded
// inbound channel, dropping the oldest queued frame under backpressure
// (spec.md §4.E "Backpressure").
func (s *Stream) ReadLoop(decode func(ulaw []byte) []byte) {
	defer close(s.closed)
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			logger.Base().Debug("media read loop ended", zap.String("call_control_id", s.callControlID), zap.Error(err))
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}

		switch frame.Event {
		case FrameStop:
			return
		case FrameMedia:
			payload, err := base64.StdEncoding.DecodeString(frame.Payload)
			if err != nil {
				continue
			}
			pcm := decode(payload)
			select {
			case s.inbound <- pcm:
			default:
				// Inbound channel full: drop the oldest frame, not the
				// newest, so playback stays as close to real time as
				// possible (spec.md §4.E).
				select {
				case <-s.inbound:
				default:
				}
				select {
				case s.inbound <- pcm:
				default:
				}
				s.droppedFrames++
				metrics.MediaFramesDroppedTotal.WithLabelValues(s.callControlID).Inc()
			}
		case FrameStart:
			// media_format negotiation is informational for this transport;
			// codec is fixed per tenant audio config.
		}
	}
}

// WritePCM encodes pcm (already at 8kHz; the caller resamples) to mu-law,
// splits it into 20ms frames and writes them at frame cadence. Blocks the
// caller (the playback scheduler) when the connection can't keep up, which
// is this transport's backpressure signal to pause the TTS producer
// (spec.md §4.E).
func (s *Stream) WritePCM(streamID string, pcm []byte, encode func(pcm []byte) []byte, seq *int64) error {
	const frameBytes = 160 // 20ms of 8kHz mu-law
	ulaw := encode(pcm)
	for len(ulaw) > 0 {
		n := min(len(ulaw), frameBytes)
		*seq++
		frame := Frame{
			Event:          FrameMedia,
			StreamID:       streamID,
			SequenceNumber: *seq,
			Payload:        base64.StdEncoding.EncodeToString(ulaw[:n]),
		}
		ulaw = ulaw[n:]

		data, err := json.Marshal(frame)
		if err != nil {
			return err
		}

		s.conn.SetWriteDeadline(time.Now().Add(frameDuration * 5))
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return err
		}
		time.Sleep(frameDuration)
	}
	return nil
}

// Close closes the underlying connection, sending a stop frame first on a
// best-effort basis.
func (s *Stream) Close() error {
	stop, _ := json.Marshal(Frame{Event: FrameStop})
	s.conn.WriteMessage(websocket.TextMessage, stop)
	return s.conn.Close()
}

// DroppedFrames reports the number of inbound frames dropped under
// backpressure, surfaced as a metric (spec.md §4.E).
func (s *Stream) DroppedFrames() uint64 { return s.droppedFrames }
