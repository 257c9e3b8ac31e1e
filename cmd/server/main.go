package main

import (
	"context"
	"fmt"
	"net/http"
	"net/smtp"
	"os"
	"strings"
	"time"

	"github.com/ClareAI/astra-voice-receptionist/internal/audio"
	"github.com/ClareAI/astra-voice-receptionist/internal/brain"
	"github.com/ClareAI/astra-voice-receptionist/internal/callregistry"
	"github.com/ClareAI/astra-voice-receptionist/internal/capacity"
	"github.com/ClareAI/astra-voice-receptionist/internal/config"
	"github.com/ClareAI/astra-voice-receptionist/internal/event"
	"github.com/ClareAI/astra-voice-receptionist/internal/history"
	"github.com/ClareAI/astra-voice-receptionist/internal/httpapi"
	"github.com/ClareAI/astra-voice-receptionist/internal/media"
	"github.com/ClareAI/astra-voice-receptionist/internal/repository"
	"github.com/ClareAI/astra-voice-receptionist/internal/shutdown"
	"github.com/ClareAI/astra-voice-receptionist/internal/tenantconfig"
	"github.com/ClareAI/astra-voice-receptionist/internal/webhook"
	"github.com/ClareAI/astra-voice-receptionist/internal/workflow"
	"github.com/ClareAI/astra-voice-receptionist/pkg/logger"
	voiceredis "github.com/ClareAI/astra-voice-receptionist/pkg/redis"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// main wires every component together and serves the process: capacity
// controller, tenant config store, event bus, call registry, webhook
// ingress, media transport, audio pipeline, workflow engine, call history
// persistence, and the graceful shutdown supervisor. Replaces the teacher's
// Server/NewServer/handler.HandlerManager wiring for the WhatsApp/OpenAI/
// LiveKit gateway this repo started as.
func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Printf("info: .env file not found or skipped (expected in production): %v\n", err)
	}

	if _, err := logger.Init(os.Getenv("LOG_ENV")); err != nil {
		logger.Base().Error("failed to initialize zap logger, falling back to std log")
	}

	config.LoadConfig()
	cfg := config.GetConfig()
	logger.Base().Info("starting voice receptionist", zap.String("instance_id", cfg.InstanceID))

	redisSvc, err := voiceredis.NewRedisService(&voiceredis.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		logger.Base().Fatal("failed to connect to redis", zap.Error(err))
	}

	repos, err := repository.NewRepositoryManager()
	if err != nil {
		logger.Base().Fatal("failed to connect to control-plane database", zap.Error(err))
	}

	tenantStore := tenantconfig.New(redisSvc, cfg.TenantMapPrefix, cfg.TenantCfgPrefix)
	capacityCtl := capacity.New(redisSvc, cfg.GlobalConcurrencyCap, cfg.TenantConcurrencyCapDefault, cfg.TenantCallsPerMinCapDefault, time.Duration(cfg.CapacityTTLSeconds)*time.Second)
	bus := event.NewBus(5 * time.Second)

	registry := callregistry.New(capacityCtl, bus, 30*time.Second, time.Duration(cfg.DeadAirMS)*time.Millisecond)
	streams := media.NewStreamRegistry()

	persister := history.NewPersister(repos.CallHistory())
	registry.OnTerminal(persister.OnTerminal)

	brainClient := brain.New(cfg.BrainURL, cfg.BrainStreamingEnabled, time.Duration(cfg.BrainTimeoutMS)*time.Millisecond, "I'm sorry, could you repeat that?")
	recognizer := audio.NewRecognizer(10 * time.Second)
	synth := audio.NewSynthesiser(10 * time.Second)

	var smtpAuth smtp.Auth
	if cfg.SMTPUser != "" {
		smtpAuth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPassword, hostOnly(cfg.SMTPAddr))
	}
	actions := workflow.NewActionRunner(10*time.Second, cfg.SMTPAddr, cfg.SMTPFrom, smtpAuth,
		cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromPhone,
		cfg.WorkflowAIEndpoint, cfg.WorkflowAIAPIKey, repos.Lead(), repos.PriceList())

	queue := workflow.NewQueue(redisSvc)
	engine := workflow.NewEngine(bus, repos.Workflow(), queue, actions, cfg.WorkflowPollInterval)

	webhookHandler := webhook.New(tenantStore, capacityCtl, registry, cfg.TelnyxVerifySignatures, time.Duration(cfg.WebhookSkewSeconds)*time.Second)
	mediaHandler := httpapi.NewMediaHandler(registry, streams, tenantStore, brainClient, recognizer, synth, cfg.MediaStreamToken, cfg.STTChunkMS, cfg.STTSilenceMS)
	healthHandler := httpapi.NewHealthHandler(redisSvc,
		httpapi.HTTPPing("whisper", cfg.STTURL),
		httpapi.HTTPPing("tts", cfg.TTSURL),
	)

	router := httpapi.NewRouter(healthHandler, webhookHandler, mediaHandler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go engine.RunWorker(ctx)
	go runScheduler(ctx, engine)
	go runReaper(ctx, registry)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Base().Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Base().Fatal("server exited unexpectedly", zap.Error(err))
		}
	}()

	supervisor := shutdown.New(webhookHandler, registry, streams, capacityCtl, queue, redisSvc, cfg.ShutdownDrainTimeout)
	supervisor.WaitForSignal(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Base().Error("http server shutdown error", zap.Error(err))
	}
	cancel()
}

// runScheduler ticks the workflow scheduler every 30s (spec.md §4.H
// "Scheduler").
func runScheduler(ctx context.Context, engine *workflow.Engine) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			engine.RunScheduler(ctx)
		}
	}
}

// runReaper drops terminal call actors older than five minutes, bounding
// memory held open for a late duplicate terminal event (spec.md §4.D).
func runReaper(ctx context.Context, registry *callregistry.Registry) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			registry.Reap(5 * time.Minute)
		}
	}
}

func hostOnly(addr string) string {
	if i := strings.LastIndex(addr, ":"); i != -1 {
		return addr[:i]
	}
	return addr
}
