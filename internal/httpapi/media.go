package httpapi

import (
	"context"
	"net/http"

	"github.com/ClareAI/astra-voice-receptionist/internal/audio"
	"github.com/ClareAI/astra-voice-receptionist/internal/brain"
	"github.com/ClareAI/astra-voice-receptionist/internal/callregistry"
	"github.com/ClareAI/astra-voice-receptionist/internal/media"
	"github.com/ClareAI/astra-voice-receptionist/internal/tenantconfig"
	"github.com/ClareAI/astra-voice-receptionist/pkg/logger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// MediaHandler upgrades ws(s)://host/v1/telnyx/media/{call_control_id} and
// bridges it to the call's audio pipeline (spec.md §4.E/§4.F integration,
// §6 "WebSocket: media"). One call per accepted connection.
type MediaHandler struct {
	registry      *callregistry.Registry
	streams       *media.StreamRegistry
	tenantStore   *tenantconfig.Store
	brainClient   *brain.Client
	recognizer    *audio.Recognizer
	synth         *audio.Synthesiser
	expectedToken string
	chunkMS       int
	silenceMS     int
}

// NewMediaHandler constructs a MediaHandler.
func NewMediaHandler(registry *callregistry.Registry, streams *media.StreamRegistry, tenantStore *tenantconfig.Store, brainClient *brain.Client, recognizer *audio.Recognizer, synth *audio.Synthesiser, expectedToken string, chunkMS, silenceMS int) *MediaHandler {
	return &MediaHandler{
		registry:      registry,
		streams:       streams,
		tenantStore:   tenantStore,
		brainClient:   brainClient,
		recognizer:    recognizer,
		synth:         synth,
		expectedToken: expectedToken,
		chunkMS:       chunkMS,
		silenceMS:     silenceMS,
	}
}

func (h *MediaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	callControlID := mux.Vars(r)["call_control_id"]

	session, ok := h.registry.Get(callControlID)
	if !ok {
		http.Error(w, "unknown call_control_id", http.StatusNotFound)
		return
	}

	stream, err := media.Accept(w, r, callControlID, h.expectedToken)
	if err != nil {
		return // Accept already wrote the error response.
	}

	cfg, err := h.tenantStore.LoadConfig(r.Context(), session.TenantID)
	if err != nil {
		logger.Base().Error("media attach: failed to load tenant config",
			zap.String("call_control_id", callControlID), zap.Error(err))
		stream.Close()
		return
	}

	// Only audio/x-mulaw has a decoder today; AMR-WB is an accepted
	// AudioConfig.Encoding value with no decoder behind it yet (spec.md §3).
	if cfg.Audio.Encoding != "audio/x-mulaw" {
		logger.Base().Error("media attach: unsupported audio encoding",
			zap.String("call_control_id", callControlID), zap.String("encoding", cfg.Audio.Encoding))
		stream.Close()
		return
	}

	h.streams.Register(callControlID, stream)
	if err := h.registry.Dispatch(callControlID, callregistry.Event{Kind: callregistry.EventMediaOpen}); err != nil {
		logger.Base().Warn("media_open dispatch failed", zap.String("call_control_id", callControlID), zap.Error(err))
	}

	pipeline := audio.NewPipeline(callControlID, session.TenantID, cfg, h.chunkMS, h.silenceMS, stream, h.registry, h.brainClient, h.recognizer, h.synth)

	ctx, cancel := context.WithCancel(context.Background())
	go stream.ReadLoop(media.DecodeMulaw)
	go func() {
		<-stream.Closed()
		h.streams.Unregister(callControlID)
		cancel()
	}()

	pipeline.Run(ctx)
}
