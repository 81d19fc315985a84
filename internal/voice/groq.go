package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/ent0n29/videochat/internal/callerr"
)

const (
	defaultGroqBaseURL = "https://api.groq.com/openai/v1"
	defaultGroqModel   = "whisper-large-v3-turbo"
)

type GroqConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// GroqProvider transcribes through Groq's OpenAI-compatible Whisper endpoint.
type GroqProvider struct {
	cfg    GroqConfig
	client *http.Client
}

func NewGroqProvider(cfg GroqConfig) *GroqProvider {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultGroqBaseURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultGroqModel
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &GroqProvider{cfg: cfg, client: client}
}

func (p *GroqProvider) Name() string { return "groq" }

func (p *GroqProvider) Transcribe(ctx context.Context, clip AudioClip, opts TranscribeOptions) (Transcript, error) {
	const op = "stt"
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return Transcript{}, callerr.New(callerr.AuthMissing, op, "GROQ_API_KEY is not set")
	}
	if len(clip.Data) == 0 {
		return Transcript{}, nil
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "audio."+fileExtension(clip.Format))
	if err != nil {
		return Transcript{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(clip.Data); err != nil {
		return Transcript{}, fmt.Errorf("write audio data: %w", err)
	}
	fields := map[string]string{
		"model":           p.cfg.Model,
		"response_format": "json",
		"temperature":     "0",
	}
	if lang := strings.TrimSpace(opts.Language); lang != "" {
		fields["language"] = lang
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return Transcript{}, fmt.Errorf("write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return Transcript{}, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.cfg.BaseURL, "/")+"/audio/transcriptions", &buf)
	if err != nil {
		return Transcript{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	res, err := p.client.Do(req)
	if err != nil {
		return Transcript{}, classifyTransportError(op, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return Transcript{}, classifyStatus(op, res)
	}

	var out struct {
		Text     string  `json:"text"`
		Language string  `json:"language"`
		Duration float64 `json:"duration"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return Transcript{}, callerr.Wrap(callerr.UpstreamRejected, op, fmt.Errorf("decode response: %w", err))
	}
	return Transcript{
		Text:     strings.TrimSpace(out.Text),
		Language: out.Language,
		Duration: out.Duration,
	}, nil
}

func fileExtension(format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	f = strings.TrimPrefix(f, "audio/")
	if i := strings.IndexAny(f, ";_"); i >= 0 {
		f = f[:i]
	}
	switch f {
	case "wav", "wave", "x-wav", "pcm":
		return "wav"
	case "mpeg", "mp3":
		return "mp3"
	case "ogg", "opus":
		return "ogg"
	case "mp4", "m4a", "aac":
		return "m4a"
	case "flac":
		return "flac"
	default:
		return "webm"
	}
}
