package openclaw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/videochat/internal/callerr"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiAdapter answers turns with a Gemini model directly, for setups
// without an OpenClaw gateway.
type GeminiAdapter struct {
	client *genai.Client
	model  string
}

func NewGeminiAdapter(ctx context.Context, apiKey, model string) (*GeminiAdapter, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	if strings.TrimSpace(model) == "" {
		model = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiAdapter{client: client, model: model}, nil
}

func (g *GeminiAdapter) Name() string { return "gemini" }

func (g *GeminiAdapter) Complete(ctx context.Context, req CompletionRequest, onDelta DeltaHandler) (Completion, error) {
	const op = "chat"
	res, err := g.client.Models.GenerateContent(ctx, g.model, toGeminiContents(req.Messages), nil)
	if err != nil {
		return Completion{}, classifyGeminiError(op, err)
	}
	text := strings.TrimSpace(res.Text())
	if text == "" {
		return Completion{}, callerr.New(callerr.GatewayError, op, "empty reply")
	}
	if onDelta != nil {
		if err := onDelta(text); err != nil {
			return Completion{}, err
		}
	}
	return Completion{Text: text}, nil
}

func toGeminiContents(msgs []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		var role genai.Role = genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		if m.Image == nil || len(m.Image.Data) == 0 {
			contents = append(contents, genai.NewContentFromText(m.Text, role))
			continue
		}
		mediaType := m.Image.MediaType
		if mediaType == "" {
			mediaType = "image/jpeg"
		}
		contents = append(contents, genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(m.Text),
			genai.NewPartFromBytes(m.Image.Data, mediaType),
		}, role))
	}
	return contents
}

func classifyGeminiError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return callerr.WithStatus(callerr.GatewayError, op, apiErr.Code, apiErr.Message)
	}
	return callerr.Wrap(callerr.GatewayUnavailable, op, err)
}
