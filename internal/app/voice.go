package app

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ent0n29/videochat/internal/config"
	"github.com/ent0n29/videochat/internal/observability"
	"github.com/ent0n29/videochat/internal/reliability"
	"github.com/ent0n29/videochat/internal/voice"
)

type voiceSetup struct {
	stt         voice.STTProvider
	tts         voice.TTSProvider
	sttProvider string
	ttsProvider string
	detail      string
}

// resolveVoiceProviders picks the STT and TTS backends for the configured
// modes and wraps them with bounded retries. A nil tts means text-only replies.
func resolveVoiceProviders(cfg config.Config, metrics *observability.Metrics, logger *slog.Logger) (voiceSetup, error) {
	var setup voiceSetup
	retry := func(attempts int) reliability.RetryPolicy {
		return reliability.RetryPolicy{MaxAttempts: attempts, BaseDelay: cfg.RetryBaseDelay, MaxDelay: cfg.RetryMaxDelay}
	}

	sttMode := strings.ToLower(strings.TrimSpace(cfg.STTProvider))
	if sttMode == "" || sttMode == "auto" {
		sttMode = "mock"
		if strings.TrimSpace(cfg.GroqAPIKey) != "" {
			sttMode = "groq"
		}
	}
	var stt voice.STTProvider
	switch sttMode {
	case "groq":
		// An explicit groq mode without a key still resolves; turns then fail
		// with auth_missing and readiness reports it.
		stt = voice.NewGroqProvider(voice.GroqConfig{
			APIKey:  cfg.GroqAPIKey,
			BaseURL: cfg.GroqBaseURL,
			Model:   cfg.GroqSTTModel,
		})
	case "mock":
		stt = voice.NewMockProvider()
	default:
		return voiceSetup{}, fmt.Errorf("invalid STT_PROVIDER: %q (expected auto|groq|mock)", cfg.STTProvider)
	}
	setup.sttProvider = sttMode
	setup.stt = voice.WithRetrySTT(stt, voice.RetryOptions{
		Policy:  retry(cfg.STTMaxAttempts),
		Timeout: cfg.STTTimeout,
		Metrics: metrics,
		Logger:  logger,
	})

	ttsMode := strings.ToLower(strings.TrimSpace(cfg.TTSProvider))
	if ttsMode == "" || ttsMode == "auto" {
		ttsMode = "mock"
		if strings.TrimSpace(cfg.ElevenLabsAPIKey) != "" {
			ttsMode = "elevenlabs"
		}
	}
	var tts voice.TTSProvider
	switch ttsMode {
	case "elevenlabs":
		tts = voice.NewElevenLabsProvider(voice.ElevenLabsConfig{
			APIKey:         cfg.ElevenLabsAPIKey,
			BaseURL:        cfg.ElevenLabsBaseURL,
			WSBaseURL:      cfg.ElevenLabsWSBaseURL,
			DefaultVoiceID: cfg.ElevenLabsTTSVoice,
			DefaultModelID: cfg.ElevenLabsTTSModel,
			OutputFormat:   cfg.ElevenLabsTTSOutputFormat,
			Streaming:      cfg.ElevenLabsTTSStreaming,
		})
		setup.detail = "elevenlabs"
		if cfg.ElevenLabsTTSStreaming {
			setup.detail = "elevenlabs stream-input"
		}
	case "mock":
		tts = voice.NewMockProvider()
		setup.detail = "mock"
	case "none":
		setup.detail = "text only"
	default:
		return voiceSetup{}, fmt.Errorf("invalid TTS_PROVIDER: %q (expected auto|elevenlabs|mock|none)", cfg.TTSProvider)
	}
	setup.ttsProvider = ttsMode
	if tts != nil {
		setup.tts = voice.WithRetryTTS(tts, voice.RetryOptions{
			Policy:  retry(cfg.TTSMaxAttempts),
			Timeout: cfg.TTSTimeout,
			Metrics: metrics,
			Logger:  logger,
		})
	}
	setup.detail = sttMode + " + " + setup.detail
	return setup, nil
}
