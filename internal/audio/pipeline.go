package audio

import (
	"context"
	"strings"
	"time"

	"github.com/ClareAI/astra-voice-receptionist/internal/brain"
	"github.com/ClareAI/astra-voice-receptionist/internal/callregistry"
	"github.com/ClareAI/astra-voice-receptionist/internal/domain"
	"github.com/ClareAI/astra-voice-receptionist/internal/media"
	"github.com/ClareAI/astra-voice-receptionist/pkg/logger"
	"go.uber.org/zap"
)

// Pipeline drives one call's caller-audio -> STT -> Brain -> TTS ->
// caller-audio loop (spec.md §4.F). One Pipeline is created per media
// stream attach and run in its own goroutine, grounded on the teacher's
// per-connection goroutine model (internal/services/call/service.go
// connection lifecycle).
type Pipeline struct {
	callControlID string
	tenantID      string
	cfg           *domain.RuntimeTenantConfig

	stream     *media.Stream
	registry   *callregistry.Registry
	brainClient *brain.Client
	recognizer *Recognizer
	synth      *Synthesiser
	segmenter  *Segmenter

	seq int64

	// playing is set while assistant audio is being written to the stream;
	// a sustained caller-speech segment observed while playing triggers
	// barge-in (spec.md §4.F "Barge-in").
	playing      bool
	speechSince  time.Time
	cancelPlay   context.CancelFunc
}

// NewPipeline constructs a Pipeline bound to one call's media stream.
// chunkMS/silenceMS are STT_CHUNK_MS/STT_SILENCE_MS (spec.md §6).
func NewPipeline(callControlID, tenantID string, cfg *domain.RuntimeTenantConfig, chunkMS, silenceMS int, stream *media.Stream, registry *callregistry.Registry, brainClient *brain.Client, recognizer *Recognizer, synth *Synthesiser) *Pipeline {
	return &Pipeline{
		callControlID: callControlID,
		tenantID:      tenantID,
		cfg:           cfg,
		stream:        stream,
		registry:      registry,
		brainClient:   brainClient,
		recognizer:    recognizer,
		synth:         synth,
		segmenter:     NewSegmenter(chunkMS, silenceMS),
	}
}

// Run consumes the stream's inbound PCM until it closes (spec.md §4.E/§4.F
// integration). It is the caller's responsibility to invoke this in its own
// goroutine and to call registry.Dispatch(EventMediaOpen) beforehand.
func (p *Pipeline) Run(ctx context.Context) {
	sttSampleRate := p.cfg.Audio.SttSampleRate
	if sttSampleRate == 0 {
		sttSampleRate = 16000
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stream.Closed():
			return
		case raw, ok := <-p.stream.Inbound():
			if !ok {
				return
			}
			p.ingest(ctx, raw, sttSampleRate)
		}
	}
}

func (p *Pipeline) ingest(ctx context.Context, pcmBytes []byte, sampleRate int) {
	nativeRate := p.cfg.Audio.SampleRateHz
	if nativeRate == 0 {
		nativeRate = 8000 // mu-law telephony audio is always 8kHz
	}
	if nativeRate != sampleRate {
		pcmBytes = media.ResampleLinear(pcmBytes, nativeRate, sampleRate)
	}

	samples := make([]int16, len(pcmBytes)/2)
	for i := range samples {
		samples[i] = int16(uint16(pcmBytes[2*i]) | uint16(pcmBytes[2*i+1])<<8)
	}

	segments := p.segmenter.Push(samples)
	for _, seg := range segments {
		if p.playing && seg.SpeechDetected {
			p.maybeBargeIn(seg)
		}
		if !seg.EndOfUtterance {
			continue
		}
		p.handleUtterance(ctx, seg, sampleRate)
	}
}

// maybeBargeIn pauses assistant playback once sustained caller speech is
// observed mid-playback (spec.md §4.F "Barge-in": 150ms minimum duration).
func (p *Pipeline) maybeBargeIn(seg Segment) {
	if p.speechSince.IsZero() {
		p.speechSince = time.Now()
		return
	}
	if time.Since(p.speechSince) < BargeInThreshold {
		return
	}
	if p.cancelPlay != nil {
		p.cancelPlay()
		p.cancelPlay = nil
	}
	p.playing = false
	p.speechSince = time.Time{}
	_ = p.registry.Dispatch(p.callControlID, callregistry.Event{Kind: callregistry.EventPlaybackEnded})
}

func (p *Pipeline) handleUtterance(ctx context.Context, seg Segment, sampleRate int) {
	p.speechSince = time.Time{}

	transcript, err := p.recognizer.Recognize(ctx, p.cfg.STT.Endpoint, seg.PCM, sampleRate, p.cfg.STT.Language)
	if err != nil {
		logger.Base().Warn("stt call failed", zap.String("call_control_id", p.callControlID), zap.Error(err))
		return
	}
	if transcript.Text == "" {
		return
	}

	turn := &domain.Turn{Role: "caller", Text: transcript.Text, At: time.Now()}
	_ = p.registry.Dispatch(p.callControlID, callregistry.Event{Kind: callregistry.EventCallerTurn, Turn: turn})
	_ = p.registry.Dispatch(p.callControlID, callregistry.Event{Kind: callregistry.EventThinking})

	session, ok := p.registry.Get(p.callControlID)
	if !ok {
		return
	}

	req := brain.Request{
		TenantID:         p.tenantID,
		CallControlID:    p.callControlID,
		Transcript:       transcript.Text,
		History:          toBrainHistory(session.History),
		TransferProfiles: toBrainProfiles(p.cfg.TransferProfiles),
		AssistantContext: p.cfg.AssistantContext,
	}

	// Uses streaming (SSE) when enabled; otherwise request/response
	// (spec.md §4.F "Brain invocation").
	if p.brainClient.StreamingEnabled() {
		p.speakStream(ctx, req)
		return
	}

	reply, err := p.brainClient.Reply(ctx, req)
	if err != nil {
		reply = p.brainClient.FallbackReply()
	}

	p.speak(ctx, reply)
}

func (p *Pipeline) speak(ctx context.Context, reply brain.Reply) {
	if reply.Text != "" {
		turn := &domain.Turn{Role: "assistant", Text: reply.Text, At: time.Now()}
		_ = p.registry.Dispatch(p.callControlID, callregistry.Event{Kind: callregistry.EventAssistantTurn, Turn: turn})

		playCtx, cancel := context.WithCancel(ctx)
		p.cancelPlay = cancel
		p.playing = true

		p.playPhrase(playCtx, reply.Text)

		p.playing = false
		p.cancelPlay = nil
		_ = p.registry.Dispatch(p.callControlID, callregistry.Event{Kind: callregistry.EventPlaybackEnded})
	}

	p.finishReply(reply)
}

// speakStream drives the streaming brain+TTS path (spec.md §4.F
// "Synthesiser": "text is accumulated into small phrases ... and each
// phrase is synthesised and played in order"). Tokens are fed through a
// PhraseSplitter as they stream in, and each completed phrase is
// synthesised and played before the full reply has finished arriving.
func (p *Pipeline) speakStream(ctx context.Context, req brain.Request) {
	playCtx, cancel := context.WithCancel(ctx)
	p.cancelPlay = cancel
	p.playing = true

	var splitter PhraseSplitter
	var assembled strings.Builder
	onToken := func(token string) {
		for _, phrase := range splitter.Push(token) {
			assembled.WriteString(phrase)
			p.playPhrase(playCtx, phrase)
		}
	}

	reply, err := p.brainClient.ReplyStream(ctx, req, onToken)
	if err != nil {
		reply = p.brainClient.FallbackReply()
	}

	if rest := splitter.Flush(); rest != "" {
		assembled.WriteString(rest)
		p.playPhrase(playCtx, rest)
	}

	if assembled.Len() == 0 {
		// Non-streaming fallback inside ReplyStream, or a failure before
		// any tokens were emitted: nothing has been played yet.
		if reply.Text != "" {
			p.playPhrase(playCtx, reply.Text)
		}
	} else if reply.Text == "" {
		reply.Text = assembled.String()
	}

	if reply.Text != "" {
		turn := &domain.Turn{Role: "assistant", Text: reply.Text, At: time.Now()}
		_ = p.registry.Dispatch(p.callControlID, callregistry.Event{Kind: callregistry.EventAssistantTurn, Turn: turn})
	}

	p.playing = false
	p.cancelPlay = nil
	_ = p.registry.Dispatch(p.callControlID, callregistry.Event{Kind: callregistry.EventPlaybackEnded})

	p.finishReply(reply)
}

// playPhrase synthesises one phrase and writes it to the call's outbound
// stream, resampling from the TTS engine's native rate to the tenant's
// configured rate (spec.md §4.E/§4.F egress).
func (p *Pipeline) playPhrase(ctx context.Context, text string) {
	pcm, sampleRate, err := p.synth.Synthesise(ctx, p.cfg.TTS, text)
	if err != nil {
		logger.Base().Warn("tts call failed", zap.String("call_control_id", p.callControlID), zap.Error(err))
		return
	}
	if sampleRate != 0 && sampleRate != p.cfg.Audio.SampleRateHz {
		pcm = media.ResampleLinear(pcm, sampleRate, p.cfg.Audio.SampleRateHz)
	}
	p.stream.WritePCM(p.callControlID, pcm, media.EncodeMulaw, &p.seq)
}

func (p *Pipeline) finishReply(reply brain.Reply) {
	if reply.Transfer != nil {
		_ = p.registry.Dispatch(p.callControlID, callregistry.Event{
			Kind:  callregistry.EventTransferStart,
			Extra: map[string]interface{}{"to": reply.Transfer.To},
		})
	}

	if reply.Hangup {
		_ = p.registry.Dispatch(p.callControlID, callregistry.Event{Kind: callregistry.EventHangup})
	}
}

func toBrainHistory(turns []domain.Turn) []brain.HistoryTurn {
	out := make([]brain.HistoryTurn, len(turns))
	for i, t := range turns {
		out[i] = brain.HistoryTurn{Role: t.Role, Text: t.Text}
	}
	return out
}

func toBrainProfiles(profiles []domain.TransferProfile) []brain.TransferProfile {
	out := make([]brain.TransferProfile, len(profiles))
	for i, pr := range profiles {
		out[i] = brain.TransferProfile{Name: pr.Name, To: pr.To}
	}
	return out
}
