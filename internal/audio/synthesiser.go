package audio

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"regexp"
	"time"

	"github.com/ClareAI/astra-voice-receptionist/internal/apperr"
	"github.com/ClareAI/astra-voice-receptionist/internal/domain"
)

// Synthesiser calls a tenant's TTS endpoint, tagged by engine (spec.md §3
// TtsConfig: kokoro_http or coqui_xtts). Shape grounded the same way as
// Recognizer, on the teacher's WatiClient HTTP-adapter.
type Synthesiser struct {
	httpClient *http.Client
}

// NewSynthesiser builds a Synthesiser with the given per-request timeout.
func NewSynthesiser(timeout time.Duration) *Synthesiser {
	return &Synthesiser{httpClient: &http.Client{Timeout: timeout}}
}

type ttsRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice,omitempty"`
	SpeakerWav string `json:"speaker_wav_url,omitempty"`
	Language   string `json:"language,omitempty"`
}

type ttsResponse struct {
	Audio      string `json:"audio"` // base64 PCM16
	SampleRate int    `json:"sample_rate"`
}

// Synthesise renders text to 16-bit PCM at the tenant's chosen engine's
// native sample rate, returning the PCM and that rate.
func (s *Synthesiser) Synthesise(ctx context.Context, cfg domain.TtsConfig, text string) (pcm []byte, sampleRate int, err error) {
	req := ttsRequest{Text: text, Voice: cfg.Voice, Language: cfg.Language}
	if cfg.Engine == domain.TtsEngineCoquiXTTS {
		req.SpeakerWav = cfg.SpeakerWav
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.Internal, "encode tts request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.Internal, "build tts request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.UpstreamFailure, "tts request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, apperr.New(apperr.UpstreamFailure, "tts returned non-200")
	}

	var ttsResp ttsResponse
	if err := json.NewDecoder(resp.Body).Decode(&ttsResp); err != nil {
		return nil, 0, apperr.Wrap(apperr.UpstreamFailure, "decode tts response", err)
	}

	pcm, err = base64.StdEncoding.DecodeString(ttsResp.Audio)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.UpstreamFailure, "decode tts audio payload", err)
	}
	return pcm, ttsResp.SampleRate, nil
}

// phraseBoundary splits streamed brain tokens into speakable phrases at
// sentence-ending punctuation, so synthesis can begin before the full
// reply has arrived (spec.md §4.F "phrase-boundary streaming").
var phraseBoundary = regexp.MustCompile(`[.!?]+(?:\s+|$)`)

// PhraseSplitter accumulates streamed tokens and yields complete phrases as
// soon as a sentence boundary is seen, plus any remainder on Flush.
type PhraseSplitter struct {
	buf string
}

// Push appends a token and returns zero or more complete phrases.
func (p *PhraseSplitter) Push(token string) []string {
	p.buf += token
	loc := phraseBoundary.FindAllStringIndex(p.buf, -1)
	if len(loc) == 0 {
		return nil
	}

	var out []string
	last := 0
	for _, m := range loc {
		out = append(out, p.buf[last:m[1]])
		last = m[1]
	}
	p.buf = p.buf[last:]
	return out
}

// Flush returns any trailing partial phrase once the stream has ended.
func (p *PhraseSplitter) Flush() string {
	rest := p.buf
	p.buf = ""
	return rest
}
