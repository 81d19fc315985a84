package openclaw

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ent0n29/videochat/internal/callerr"
)

const (
	DefaultBaseURL = "http://127.0.0.1:18789"
	defaultAgentID = "main"
	defaultModel   = "openclaw"
)

type HTTPConfig struct {
	BaseURL string
	Token   string
	AgentID string
	Model   string
	Stream  bool
	Client  *http.Client
}

// HTTPAdapter talks to the OpenClaw gateway's OpenAI-compatible
// /v1/chat/completions endpoint.
type HTTPAdapter struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTPAdapter(cfg HTTPConfig) *HTTPAdapter {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if strings.TrimSpace(cfg.AgentID) == "" {
		cfg.AgentID = defaultAgentID
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPAdapter{cfg: cfg, client: client}
}

func (a *HTTPAdapter) Name() string { return "openclaw" }

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	User     string        `json:"user,omitempty"`
	Stream   bool          `json:"stream,omitempty"`
}

func (a *HTTPAdapter) Complete(ctx context.Context, req CompletionRequest, onDelta DeltaHandler) (Completion, error) {
	const op = "chat"
	payload, err := json.Marshal(chatRequest{
		Model:    a.cfg.Model,
		Messages: toChatMessages(req.Messages),
		User:     "videochat-" + req.SessionID,
		Stream:   a.cfg.Stream,
	})
	if err != nil {
		return Completion{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(a.cfg.BaseURL, "/")+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Completion{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-openclaw-agent-id", a.cfg.AgentID)
	if tok := strings.TrimSpace(a.cfg.Token); tok != "" {
		httpReq.Header.Set("Authorization", "Bearer "+tok)
	}

	res, err := a.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Completion{}, err
		}
		return Completion{}, callerr.Wrap(callerr.GatewayUnavailable, op, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Completion{}, callerr.WithStatus(callerr.GatewayError, op, res.StatusCode, strings.TrimSpace(string(body)))
	}

	var text string
	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if strings.Contains(ct, "text/event-stream") {
		text, err = consumeSSE(res.Body, onDelta)
	} else {
		text, err = consumeJSON(res.Body, onDelta)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Completion{}, err
		}
		return Completion{}, callerr.Wrap(callerr.GatewayError, op, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Completion{}, callerr.New(callerr.GatewayError, op, "empty reply")
	}
	return Completion{Text: text}, nil
}

func toChatMessages(msgs []Message) []chatMessage {
	out := make([]chatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Image == nil || len(m.Image.Data) == 0 {
			out = append(out, chatMessage{Role: string(m.Role), Content: m.Text})
			continue
		}
		mediaType := m.Image.MediaType
		if mediaType == "" {
			mediaType = "image/jpeg"
		}
		out = append(out, chatMessage{
			Role: string(m.Role),
			Content: []contentPart{
				{Type: "text", Text: m.Text},
				{Type: "image_url", ImageURL: &imageURL{
					URL: "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(m.Image.Data),
				}},
			},
		})
	}
	return out
}

type completionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func consumeJSON(body io.Reader, onDelta DeltaHandler) (string, error) {
	var out completionChunk
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Error != nil {
		return "", errors.New(out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", nil
	}
	text := out.Choices[0].Message.Content
	if text != "" && onDelta != nil {
		if err := onDelta(text); err != nil {
			return "", err
		}
	}
	return text, nil
}

func consumeSSE(body io.Reader, onDelta DeltaHandler) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	coalescer := newDeltaCoalescer(defaultCoalesceChars)
	emit := func(chunks []string) error {
		if onDelta == nil {
			return nil
		}
		for _, c := range chunks {
			if err := onDelta(c); err != nil {
				return err
			}
		}
		return nil
	}

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			break
		}
		var chunk completionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			return "", errors.New(chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		out.WriteString(delta)
		if err := emit(coalescer.Consume(delta)); err != nil {
			return "", err
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("stream read: %w", err)
	}
	if err := emit(coalescer.Finalize()); err != nil {
		return "", err
	}
	return out.String(), nil
}
