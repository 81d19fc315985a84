package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ent0n29/videochat/internal/audio"
	"github.com/ent0n29/videochat/internal/config"
	"github.com/ent0n29/videochat/internal/httpapi"
	"github.com/ent0n29/videochat/internal/observability"
	"github.com/ent0n29/videochat/internal/openclaw"
	"github.com/ent0n29/videochat/internal/session"
)

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Sessions  *session.Manager
	Replies   *audio.ReplyStore
	Metrics   *observability.Metrics
	Readiness httpapi.Readiness
	// VoiceDetail describes the resolved speech backends for the startup log.
	VoiceDetail string
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	chat, err := openclaw.NewAdapter(ctx, openclaw.Config{
		Mode:         cfg.ChatProvider,
		BaseURL:      cfg.OpenClawBaseURL,
		Token:        cfg.OpenClawToken,
		AgentID:      cfg.OpenClawAgentID,
		Model:        cfg.OpenClawModel,
		Stream:       cfg.OpenClawStream,
		GeminiAPIKey: cfg.GeminiAPIKey,
		GeminiModel:  cfg.GeminiModel,
		Timeout:      cfg.ChatTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("chat adapter init failed: %w", err)
	}

	voiceSetup, err := resolveVoiceProviders(cfg, metrics, logger)
	if err != nil {
		return nil, err
	}

	pipeline := &session.Pipeline{
		STT:         voiceSetup.stt,
		Chat:        chat,
		TTS:         voiceSetup.tts,
		ChatTimeout: cfg.ChatTimeout,
		Metrics:     metrics,
		Logger:      logger,
	}
	sessions := session.NewManager(session.ManagerConfig{
		InactivityTimeout:  cfg.SessionInactivityTimeout,
		MaxSessions:        cfg.MaxSessions,
		TombstoneRetention: cfg.TombstoneRetention,
		Limits: session.Limits{
			HistoryTurns:  cfg.HistoryTurns,
			MaxAudioBytes: cfg.MaxAudioBytes,
			MaxFrameBytes: cfg.MaxFrameBytes,
		},
	}, pipeline)

	replies := audio.NewReplyStore(cfg.ReplyAudioTTL, 0)
	sessions.SetEndHook(func(key, reason string, _ int) {
		if n := replies.DropSession(key); n > 0 {
			logger.Debug("dropped reply audio of ended session", "session_id", key, "reason", reason, "replies", n)
		}
	})

	readiness := httpapi.ReadinessFor(cfg, voiceSetup.sttProvider, chat.Name(), voiceSetup.ttsProvider)
	if chat.Name() == "openclaw" {
		readiness.Checks = append(readiness.Checks, gatewayCheck(cfg.OpenClawBaseURL))
	}

	return &BuildResult{
		Config:      cfg,
		API:         httpapi.New(cfg, sessions, replies, readiness, metrics, logger),
		Sessions:    sessions,
		Replies:     replies,
		Metrics:     metrics,
		Readiness:   readiness,
		VoiceDetail: voiceSetup.detail,
	}, nil
}

// StartSweepers runs idle eviction and reply-audio expiry until ctx ends.
func (b *BuildResult) StartSweepers(ctx context.Context) {
	b.Sessions.StartJanitor(ctx, b.Config.EvictionInterval)
	b.Replies.StartSweeper(ctx, b.Config.EvictionInterval)
}
