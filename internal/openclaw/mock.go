package openclaw

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter provides deterministic local replies when no backend is configured.
type MockAdapter struct {
	// Replies maps a transcript to a canned reply.
	Replies map[string]string
}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) Name() string { return "mock" }

func (a *MockAdapter) Complete(ctx context.Context, req CompletionRequest, onDelta DeltaHandler) (Completion, error) {
	select {
	case <-ctx.Done():
		return Completion{}, ctx.Err()
	default:
	}

	text := a.reply(req)
	if onDelta != nil {
		if err := onDelta(text); err != nil {
			return Completion{}, err
		}
	}
	return Completion{Text: text}, nil
}

func (a *MockAdapter) reply(req CompletionRequest) string {
	base := strings.TrimSpace(req.Transcript)
	if base == "" {
		base = strings.TrimSpace(LastUserText(req.Messages))
	}
	if canned, ok := a.Replies[strings.ToLower(base)]; ok {
		return canned
	}
	if base == "" {
		return "I am listening."
	}
	turns := 0
	for _, m := range req.Messages {
		if m.Role == RoleAssistant {
			turns++
		}
	}
	if turns == 0 {
		return fmt.Sprintf("I heard you: %s", base)
	}
	return fmt.Sprintf("I heard you: %s (turn %d)", base, turns+1)
}
