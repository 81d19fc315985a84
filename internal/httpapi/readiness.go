package httpapi

import (
	"net/http"
	"strings"

	"github.com/ent0n29/videochat/internal/config"
)

// Check is one line of the readiness report.
type Check struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

// Readiness describes the resolved backends. The service is ready when
// transcription and chat can both run; speech only degrades replies to text.
type Readiness struct {
	STTProvider  string  `json:"stt_provider"`
	ChatProvider string  `json:"chat_provider"`
	TTSProvider  string  `json:"tts_provider"`
	Checks       []Check `json:"checks"`
}

func (r Readiness) Ready() bool {
	for _, c := range r.Checks {
		if c.Status == "error" {
			return false
		}
	}
	return r.STTProvider != "" && r.ChatProvider != ""
}

// ReadinessFor inspects cfg for the providers the app resolved.
func ReadinessFor(cfg config.Config, stt, chat, tts string) Readiness {
	r := Readiness{
		STTProvider:  stt,
		ChatProvider: chat,
		TTSProvider:  tts,
		Checks:       make([]Check, 0, 4),
	}

	switch stt {
	case "groq":
		if strings.TrimSpace(cfg.GroqAPIKey) == "" {
			r.add("stt_key", "error", "Speech recognition key", "GROQ_API_KEY is not set",
				"Set GROQ_API_KEY or write it to ~/.openclaw/secrets/groq_api_key.txt.")
		} else {
			r.add("stt_key", "ok", "Speech recognition key", "present", "")
		}
	case "mock":
		r.add("stt_mock", "warn", "Speech recognition is mock", "Every utterance transcribes to a fixed phrase.",
			"Set GROQ_API_KEY to transcribe real audio.")
	default:
		r.add("stt_provider", "error", "Speech recognition", "no provider resolved", "")
	}

	switch chat {
	case "openclaw":
		r.add("chat_gateway", "ok", "Chat gateway", cfg.OpenClawBaseURL, "")
		if strings.TrimSpace(cfg.OpenClawToken) == "" {
			r.add("chat_token", "warn", "Chat gateway token", "no token configured",
				"Set OPENCLAW_GATEWAY_HTTP_TOKEN or gateway.auth.token in openclaw.json.")
		}
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			r.add("chat_key", "error", "Gemini API key", "GEMINI_API_KEY is not set", "")
		} else {
			r.add("chat_key", "ok", "Gemini API key", "present", "")
		}
	case "mock":
		r.add("chat_mock", "warn", "Chat backend is mock", "Replies echo the transcript.",
			"Run the OpenClaw gateway or set GEMINI_API_KEY.")
	default:
		r.add("chat_provider", "error", "Chat backend", "no provider resolved", "")
	}

	switch tts {
	case "elevenlabs":
		if strings.TrimSpace(cfg.ElevenLabsAPIKey) == "" {
			r.add("tts_key", "warn", "Speech synthesis key", "ELEVENLABS_API_KEY is not set; replies are text only", "")
		} else {
			r.add("tts_key", "ok", "Speech synthesis key", "present", "")
		}
	case "", "none":
		r.add("tts_disabled", "warn", "Speech synthesis", "disabled; replies are text only", "")
	default:
		r.add("tts_provider", "warn", "Speech synthesis", tts, "")
	}
	return r
}

func (r *Readiness) add(id, status, label, detail, fix string) {
	r.Checks = append(r.Checks, Check{ID: id, Status: status, Label: label, Detail: detail, Fix: fix})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"ready":           s.readiness.Ready(),
		"stt_provider":    s.readiness.STTProvider,
		"chat_provider":   s.readiness.ChatProvider,
		"tts_provider":    s.readiness.TTSProvider,
		"active_sessions": s.sessions.ActiveCount(),
		"checks":          s.readiness.Checks,
	})
}
