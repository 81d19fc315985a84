package openclaw

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Image is an inline camera frame attached to a user message.
type Image struct {
	MediaType string
	Data      []byte
}

type Message struct {
	Role  Role
	Text  string
	Image *Image
}

// CompletionRequest is one chat call: prior history plus the framed newest
// user message as the last element of Messages.
type CompletionRequest struct {
	SessionID string
	TurnID    string
	Messages  []Message
	// Transcript is the raw utterance behind the last message.
	Transcript string
}

type Completion struct {
	Text string
}

// DeltaHandler receives streaming text fragments.
type DeltaHandler func(delta string) error

// Adapter sends one conversation to the agent backend.
type Adapter interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest, onDelta DeltaHandler) (Completion, error)
}

// Config controls adapter construction.
type Config struct {
	Mode         string
	BaseURL      string
	Token        string
	AgentID      string
	Model        string
	Stream       bool
	GeminiAPIKey string
	GeminiModel  string
	Timeout      time.Duration
}

// NewAdapter builds the adapter for cfg.Mode. auto prefers the gateway when a
// token is configured, then Gemini, then the mock.
func NewAdapter(ctx context.Context, cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}
	if mode == "auto" {
		switch {
		case strings.TrimSpace(cfg.Token) != "":
			mode = "openclaw"
		case strings.TrimSpace(cfg.GeminiAPIKey) != "":
			mode = "gemini"
		default:
			mode = "mock"
		}
	}

	switch mode {
	case "openclaw", "http":
		return NewHTTPAdapter(HTTPConfig{
			BaseURL: cfg.BaseURL,
			Token:   cfg.Token,
			AgentID: cfg.AgentID,
			Model:   cfg.Model,
			Stream:  cfg.Stream,
			Client:  &http.Client{Timeout: cfg.Timeout},
		}), nil
	case "gemini":
		return NewGeminiAdapter(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported chat adapter mode %q", cfg.Mode)
	}
}
