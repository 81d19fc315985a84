package voice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ent0n29/videochat/internal/callerr"
	"github.com/gorilla/websocket"
)

const (
	defaultElevenLabsBaseURL   = "https://api.elevenlabs.io"
	defaultElevenLabsWSBaseURL = "wss://api.elevenlabs.io"
	defaultElevenLabsModelID   = "eleven_multilingual_v2"
	defaultElevenLabsFormat    = "mp3_44100_128"
)

type ElevenLabsConfig struct {
	APIKey         string
	BaseURL        string
	WSBaseURL      string
	DefaultVoiceID string
	DefaultModelID string
	OutputFormat   string
	// Streaming selects the stream-input websocket instead of one HTTP call.
	Streaming  bool
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

type ElevenLabsProvider struct {
	cfg    ElevenLabsConfig
	client *http.Client
	dialer *websocket.Dialer
}

func NewElevenLabsProvider(cfg ElevenLabsConfig) *ElevenLabsProvider {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultElevenLabsBaseURL
	}
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = defaultElevenLabsWSBaseURL
	}
	if strings.TrimSpace(cfg.DefaultModelID) == "" {
		cfg.DefaultModelID = defaultElevenLabsModelID
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = defaultElevenLabsFormat
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &ElevenLabsProvider{cfg: cfg, client: client, dialer: dialer}
}

func (p *ElevenLabsProvider) Name() string { return "elevenlabs" }

func (p *ElevenLabsProvider) Synthesize(ctx context.Context, text string, cfg VoiceConfig) (Synthesis, error) {
	const op = "tts"
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return Synthesis{}, callerr.New(callerr.AuthMissing, op, "ELEVENLABS_API_KEY is not set")
	}
	voiceID := firstNonEmpty(cfg.VoiceID, p.cfg.DefaultVoiceID)
	if voiceID == "" {
		return Synthesis{}, callerr.New(callerr.UpstreamRejected, op, "voice_id is required")
	}
	modelID := firstNonEmpty(cfg.ModelID, p.cfg.DefaultModelID)
	settings := voiceSettings(cfg.Speed)

	var (
		data []byte
		err  error
	)
	if p.cfg.Streaming {
		data, err = p.synthesizeStream(ctx, voiceID, modelID, text, settings)
	} else {
		data, err = p.synthesizeHTTP(ctx, voiceID, modelID, text, settings)
	}
	if err != nil {
		return Synthesis{}, err
	}
	return Synthesis{Audio: data, Format: p.cfg.OutputFormat, ContentType: ContentTypeForFormat(p.cfg.OutputFormat)}, nil
}

func (p *ElevenLabsProvider) synthesizeHTTP(ctx context.Context, voiceID, modelID, text string, settings map[string]any) ([]byte, error) {
	const op = "tts"
	body, err := json.Marshal(map[string]any{
		"text":           text,
		"model_id":       modelID,
		"voice_settings": settings,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	u := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(voiceID) +
		"?output_format=" + url.QueryEscape(p.cfg.OutputFormat)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("xi-api-key", p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", ContentTypeForFormat(p.cfg.OutputFormat))

	res, err := p.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(op, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, classifyStatus(op, res)
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, classifyTransportError(op, err)
	}
	return data, nil
}

// synthesizeStream sends the whole text over the stream-input websocket and
// collects audio until the final marker or close.
func (p *ElevenLabsProvider) synthesizeStream(ctx context.Context, voiceID, modelID, text string, settings map[string]any) ([]byte, error) {
	const op = "tts"
	u, err := url.Parse(strings.TrimRight(p.cfg.WSBaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("model_id", modelID)
	q.Set("output_format", p.cfg.OutputFormat)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", p.cfg.APIKey)

	conn, res, err := p.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if res != nil && res.StatusCode >= 300 {
			return nil, classifyStatus(op, res)
		}
		return nil, classifyTransportError(op, fmt.Errorf("dial tts websocket: %w", err))
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	// Prime with voice settings, send the text, then an empty string to flush.
	for _, msg := range []map[string]any{
		{"text": " ", "voice_settings": settings},
		{"text": text + " ", "try_trigger_generation": true},
		{"text": ""},
	} {
		if err := conn.WriteJSON(msg); err != nil {
			return nil, p.streamError(ctx, err)
		}
	}

	var out bytes.Buffer
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && out.Len() > 0 {
				return out.Bytes(), nil
			}
			return nil, p.streamError(ctx, err)
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}
		if errMsg := asString(raw["error"]); errMsg != "" {
			return nil, callerr.New(callerr.UpstreamRejected, op, errMsg)
		}
		if chunk := asString(raw["audio"]); chunk != "" {
			decoded, err := base64.StdEncoding.DecodeString(chunk)
			if err != nil {
				return nil, callerr.Wrap(callerr.UpstreamRejected, op, fmt.Errorf("decode audio chunk: %w", err))
			}
			out.Write(decoded)
		}
		if asBool(raw["isFinal"]) || asBool(raw["is_final"]) {
			return out.Bytes(), nil
		}
	}
}

func (p *ElevenLabsProvider) streamError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return callerr.Wrap(callerr.UpstreamTimeout, "tts", ctxErr)
		}
		return ctxErr
	}
	return callerr.Wrap(callerr.UpstreamTimeout, "tts", err)
}

func voiceSettings(speed float64) map[string]any {
	if speed <= 0 {
		speed = 1.0
	}
	if speed < 0.7 {
		speed = 0.7
	} else if speed > 1.2 {
		speed = 1.2
	}
	return map[string]any{
		"stability":        0.42,
		"similarity_boost": 0.85,
		"speed":            speed,
	}
}

// ContentTypeForFormat maps a provider output format tag to a MIME type.
// pcm_* is reported as WAV since SynthesizeReply wraps it.
func ContentTypeForFormat(format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	switch {
	case strings.HasPrefix(f, "mp3"):
		return "audio/mpeg"
	case strings.HasPrefix(f, "pcm"), strings.HasPrefix(f, "wav"):
		return "audio/wav"
	case strings.HasPrefix(f, "ulaw"):
		return "audio/basic"
	case strings.HasPrefix(f, "opus"):
		return "audio/ogg"
	case f == "mock_text_bytes":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func asBool(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return false
}
