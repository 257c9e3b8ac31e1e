// Package brain is the Brain Client (spec.md §4.G): non-streaming and
// SSE-streaming calls to the external assistant ("brain") service, and
// the reply/transfer/hangup directive it returns.
package brain

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ClareAI/astra-voice-receptionist/internal/apperr"
)

// Request is what the Audio Pipeline sends on a non-empty transcript
// (spec.md §4.F "Brain invocation").
type Request struct {
	TenantID         string            `json:"tenant_id"`
	CallControlID    string            `json:"call_control_id"`
	Transcript       string            `json:"transcript"`
	History          []HistoryTurn     `json:"history,omitempty"`
	TransferProfiles []TransferProfile `json:"transfer_profiles,omitempty"`
	AssistantContext map[string]string `json:"assistant_context,omitempty"`
}

type HistoryTurn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type TransferProfile struct {
	Name string `json:"name"`
	To   string `json:"to"`
}

// Transfer is the brain's transfer directive (spec.md §4.F).
type Transfer struct {
	To         string `json:"to"`
	AudioURL   string `json:"audioUrl,omitempty"`
	TimeoutSecs int   `json:"timeoutSecs,omitempty"`
}

// VoiceDirective switches the TTS voice for the remainder of the call.
type VoiceDirective struct {
	Mode         string `json:"mode"` // "preset" | "cloned"
	SpeakerWavURL string `json:"speakerWavUrl,omitempty"`
}

// Reply is the brain's (possibly partial, if interrupted mid-stream)
// response (spec.md §4.F, §9 "Brain SSE streaming").
type Reply struct {
	Text           string          `json:"text"`
	Hangup         bool            `json:"hangup,omitempty"`
	Transfer       *Transfer       `json:"transfer,omitempty"`
	VoiceDirective *VoiceDirective `json:"voiceDirective,omitempty"`
}

// sseTokenData is the `data:` payload of a "token" SSE event (spec.md §4.G).
type sseTokenData struct {
	T string `json:"t"`
}

// sseErrorData is the `data:` payload of a terminal "error" SSE event.
type sseErrorData struct {
	Message string `json:"message"`
}

// Client calls the configured brain endpoint.
type Client struct {
	baseURL           string
	streamingEnabled  bool
	httpClient        *http.Client
	fallbackText      string
}

// New constructs a Client. baseURL is BRAIN_URL, streamingEnabled is
// BRAIN_STREAMING_ENABLED, timeout is BRAIN_TIMEOUT_MS (spec.md §6).
func New(baseURL string, streamingEnabled bool, timeout time.Duration, fallbackText string) *Client {
	if fallbackText == "" {
		fallbackText = "I'm sorry, I'm having trouble right now. Please try your call again shortly."
	}
	return &Client{
		baseURL:          strings.TrimRight(baseURL, "/"),
		streamingEnabled: streamingEnabled,
		httpClient:       &http.Client{Timeout: timeout},
		fallbackText:     fallbackText,
	}
}

// StreamingEnabled reports whether this client was configured to use the
// SSE streaming endpoint (BRAIN_STREAMING_ENABLED, spec.md §4.F "Uses
// streaming (SSE) when enabled; otherwise request/response").
func (c *Client) StreamingEnabled() bool {
	return c.streamingEnabled
}

// FallbackReply is what the audio pipeline plays when the brain is
// unreachable or errors (spec.md §7 "brain fallback text").
func (c *Client) FallbackReply() Reply {
	return Reply{Text: c.fallbackText}
}

// Reply performs a non-streaming request/response call to the brain.
func (c *Client) Reply(ctx context.Context, req Request) (Reply, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Reply{}, apperr.Wrap(apperr.Internal, "encode brain request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/reply", bytes.NewReader(body))
	if err != nil {
		return Reply{}, apperr.Wrap(apperr.Internal, "build brain request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Reply{}, apperr.Wrap(apperr.UpstreamFailure, "brain request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Reply{}, apperr.New(apperr.UpstreamFailure, fmt.Sprintf("brain returned status %d", resp.StatusCode))
	}

	var reply Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return Reply{}, apperr.Wrap(apperr.UpstreamFailure, "decode brain reply", err)
	}
	return reply, nil
}

// ReplyStream performs an SSE-streaming call, invoking onToken for each
// token chunk as it arrives (a lazy, finite, non-restartable sequence,
// spec.md §9). It returns the authoritative final Reply from the "done"
// event, or the best-effort text assembled from tokens received so far if
// the stream terminates with "error" (spec.md §9 "Brain SSE streaming").
func (c *Client) ReplyStream(ctx context.Context, req Request, onToken func(token string)) (Reply, error) {
	if !c.streamingEnabled {
		return c.Reply(ctx, req)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Reply{}, apperr.Wrap(apperr.Internal, "encode brain request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/reply/stream", bytes.NewReader(body))
	if err != nil {
		return Reply{}, apperr.Wrap(apperr.Internal, "build brain request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Reply{}, apperr.Wrap(apperr.UpstreamFailure, "brain stream request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Reply{}, apperr.New(apperr.UpstreamFailure, fmt.Sprintf("brain stream returned status %d", resp.StatusCode))
	}

	var assembled strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var event string
	var data strings.Builder

	dispatch := func() (Reply, error, bool) {
		payload := data.String()
		data.Reset()
		ev := event
		event = ""

		switch ev {
		case "token":
			var t sseTokenData
			if err := json.Unmarshal([]byte(payload), &t); err == nil && t.T != "" {
				assembled.WriteString(t.T)
				if onToken != nil {
					onToken(t.T)
				}
			}
		case "done":
			var reply Reply
			if err := json.Unmarshal([]byte(payload), &reply); err == nil {
				return reply, nil, true
			}
			return Reply{Text: assembled.String()}, nil, true
		case "error":
			// Partial consumption is permitted: if tokens were already
			// emitted, the assembled text is returned rather than
			// surfacing the error (spec.md §4.G).
			if assembled.Len() > 0 {
				return Reply{Text: assembled.String()}, nil, true
			}
			var e sseErrorData
			_ = json.Unmarshal([]byte(payload), &e)
			return Reply{}, apperr.New(apperr.UpstreamFailure, e.Message), true
		}
		return Reply{}, nil, false
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case line == "":
			// Blank line: SSE record boundary.
			if event == "meta" || event == "ping" {
				event = ""
				data.Reset()
				continue
			}
			if reply, err, done := dispatch(); done {
				return reply, err
			}
		}
	}

	if err := scanner.Err(); err != nil && err != io.EOF {
		return Reply{Text: assembled.String()}, apperr.Wrap(apperr.UpstreamFailure, "brain stream read failed", err)
	}

	return Reply{Text: assembled.String()}, apperr.New(apperr.UpstreamFailure, "brain stream ended without a done event")
}
