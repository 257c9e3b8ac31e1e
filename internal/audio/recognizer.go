package audio

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ClareAI/astra-voice-receptionist/internal/apperr"
)

// Recognizer calls a tenant's STT endpoint (engine "whisper_http", spec.md
// §3 SttConfig). Grounded on the teacher's WatiClient HTTP-adapter shape
// (internal/adapters/http/wati_client.go): a thin struct wrapping
// *http.Client with one method per remote call.
type Recognizer struct {
	httpClient *http.Client
}

// NewRecognizer builds a Recognizer with the given per-call timeout.
func NewRecognizer(timeout time.Duration) *Recognizer {
	return &Recognizer{httpClient: &http.Client{Timeout: timeout}}
}

type sttRequest struct {
	Audio    string `json:"audio"` // base64 PCM16
	SampleRate int  `json:"sample_rate"`
	Language string `json:"language,omitempty"`
}

type sttResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Transcript is the empty-or-confident-enough result of a recognition call.
// Empty and low-confidence transcripts are dropped by the caller (spec.md
// §4.F "Recognition").
type Transcript struct {
	Text       string
	Confidence float64
}

// minConfidence below which a transcript is treated as noise, not speech.
const minConfidence = 0.35

// Recognize posts one segment's PCM to endpoint and returns the transcript,
// or a zero Transcript if it's empty or below minConfidence.
func (r *Recognizer) Recognize(ctx context.Context, endpoint string, pcm []int16, sampleRate int, language string) (Transcript, error) {
	raw := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		raw[2*i] = byte(uint16(s))
		raw[2*i+1] = byte(uint16(s) >> 8)
	}

	reqBody, err := json.Marshal(sttRequest{
		Audio:      base64.StdEncoding.EncodeToString(raw),
		SampleRate: sampleRate,
		Language:   language,
	})
	if err != nil {
		return Transcript{}, apperr.Wrap(apperr.Internal, "encode stt request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return Transcript{}, apperr.Wrap(apperr.Internal, "build stt request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return Transcript{}, apperr.Wrap(apperr.UpstreamFailure, "stt request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Transcript{}, apperr.New(apperr.UpstreamFailure, "stt returned non-200")
	}

	var sttResp sttResponse
	if err := json.NewDecoder(resp.Body).Decode(&sttResp); err != nil {
		return Transcript{}, apperr.Wrap(apperr.UpstreamFailure, "decode stt response", err)
	}

	if sttResp.Text == "" || (sttResp.Confidence > 0 && sttResp.Confidence < minConfidence) {
		return Transcript{}, nil
	}
	return Transcript{Text: sttResp.Text, Confidence: sttResp.Confidence}, nil
}
