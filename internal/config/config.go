package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the video call service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	EnvFile          string
	LogLevel         string
	LogFormat        string
	MetricsNamespace string
	AllowAnyOrigin   bool

	SessionInactivityTimeout time.Duration
	EvictionInterval         time.Duration
	TombstoneRetention       time.Duration
	MaxSessions              int
	HistoryTurns             int
	MaxAudioBytes            int
	MaxFrameBytes            int
	ReplyAudioTTL            time.Duration

	AgentName    string
	UserName     string
	CallLanguage string
	CallSpeed    string

	STTProvider    string
	GroqAPIKey     string
	GroqBaseURL    string
	GroqSTTModel   string
	STTTimeout     time.Duration
	STTMaxAttempts int

	TTSProvider               string
	ElevenLabsAPIKey          string
	ElevenLabsBaseURL         string
	ElevenLabsWSBaseURL       string
	ElevenLabsTTSVoice        string
	ElevenLabsTTSModel        string
	ElevenLabsTTSOutputFormat string
	ElevenLabsTTSStreaming    bool
	TTSTimeout                time.Duration
	TTSMaxAttempts            int

	ChatProvider       string
	OpenClawConfigPath string
	OpenClawBaseURL    string
	OpenClawToken      string
	OpenClawAgentID    string
	OpenClawModel      string
	OpenClawStream     bool
	GeminiAPIKey       string
	GeminiModel        string
	ChatTimeout        time.Duration

	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// Load reads the optional env file, then environment variables, and applies
// safe defaults. Variables already set in the process win over the file.
func Load() (Config, error) {
	envFile := envOrDefault("APP_ENV_FILE", ".env")
	if err := LoadEnvFile(envFile); err != nil {
		return Config{}, err
	}

	home, _ := os.UserHomeDir()
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8766"),
		ShutdownTimeout:  15 * time.Second,
		EnvFile:          envFile,
		LogLevel:         envOrDefault("APP_LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("APP_LOG_FORMAT", "json"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "videochat"),

		SessionInactivityTimeout: 5 * time.Minute,
		EvictionInterval:         15 * time.Second,
		TombstoneRetention:       10 * time.Minute,
		MaxSessions:              8,
		HistoryTurns:             20,
		MaxAudioBytes:            10 << 20,
		MaxFrameBytes:            4 << 20,
		ReplyAudioTTL:            10 * time.Minute,

		AgentName:    envOrDefault("AGENT_NAME", "AI Assistant"),
		UserName:     envOrDefault("USER_NAME", "User"),
		CallLanguage: strings.ToLower(envOrDefault("CALL_LANGUAGE", "en")),
		CallSpeed:    strings.ToLower(envOrDefault("CALL_SPEED", "normal")),

		STTProvider:    strings.ToLower(envOrDefault("STT_PROVIDER", "auto")),
		GroqAPIKey:     stringsTrimSpace("GROQ_API_KEY"),
		GroqBaseURL:    envOrDefault("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		GroqSTTModel:   envOrDefault("GROQ_STT_MODEL", "whisper-large-v3-turbo"),
		STTTimeout:     15 * time.Second,
		STTMaxAttempts: 3,

		TTSProvider:         strings.ToLower(envOrDefault("TTS_PROVIDER", "auto")),
		ElevenLabsAPIKey:    stringsTrimSpace("ELEVENLABS_API_KEY"),
		ElevenLabsBaseURL:   envOrDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		ElevenLabsWSBaseURL: envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		// A warm premade voice; override per deployment.
		ElevenLabsTTSVoice:        envOrDefault("ELEVENLABS_TTS_VOICE_ID", "cgSgspJ2msm6clMCkdW9"),
		ElevenLabsTTSModel:        envOrDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_multilingual_v2"),
		ElevenLabsTTSOutputFormat: envOrDefault("ELEVENLABS_TTS_OUTPUT_FORMAT", "mp3_44100_128"),
		TTSTimeout:                15 * time.Second,
		TTSMaxAttempts:            3,

		ChatProvider:       strings.ToLower(envOrDefault("CHAT_PROVIDER", "auto")),
		OpenClawConfigPath: envOrDefault("OPENCLAW_CONFIG_PATH", joinHome(home, ".openclaw/openclaw.json")),
		OpenClawBaseURL:    stringsTrimSpace("OPENCLAW_BASE_URL"),
		OpenClawToken:      stringsTrimSpace("OPENCLAW_GATEWAY_HTTP_TOKEN"),
		OpenClawAgentID:    envOrDefault("OPENCLAW_AGENT_ID", "main"),
		OpenClawModel:      envOrDefault("OPENCLAW_MODEL", "openclaw"),
		OpenClawStream:     true,
		GeminiAPIKey:       stringsTrimSpace("GEMINI_API_KEY"),
		GeminiModel:        envOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		ChatTimeout:        60 * time.Second,

		RetryBaseDelay: 250 * time.Millisecond,
		RetryMaxDelay:  2 * time.Second,
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"APP_SESSION_INACTIVITY_TIMEOUT", &cfg.SessionInactivityTimeout},
		{"APP_EVICTION_INTERVAL", &cfg.EvictionInterval},
		{"APP_SESSION_TOMBSTONE_RETENTION", &cfg.TombstoneRetention},
		{"APP_REPLY_AUDIO_TTL", &cfg.ReplyAudioTTL},
		{"STT_TIMEOUT", &cfg.STTTimeout},
		{"TTS_TIMEOUT", &cfg.TTSTimeout},
		{"CHAT_TIMEOUT", &cfg.ChatTimeout},
		{"RETRY_BASE_DELAY", &cfg.RetryBaseDelay},
		{"RETRY_MAX_DELAY", &cfg.RetryMaxDelay},
	}
	var err error
	for _, d := range durations {
		if *d.dst, err = durationFromEnv(d.key, *d.dst); err != nil {
			return Config{}, err
		}
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"APP_MAX_SESSIONS", &cfg.MaxSessions},
		{"APP_HISTORY_TURNS", &cfg.HistoryTurns},
		{"APP_MAX_AUDIO_BYTES", &cfg.MaxAudioBytes},
		{"APP_MAX_FRAME_BYTES", &cfg.MaxFrameBytes},
		{"STT_MAX_ATTEMPTS", &cfg.STTMaxAttempts},
		{"TTS_MAX_ATTEMPTS", &cfg.TTSMaxAttempts},
	}
	for _, n := range ints {
		if *n.dst, err = intFromEnv(n.key, *n.dst); err != nil {
			return Config{}, err
		}
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", false)
	if err != nil {
		return Config{}, err
	}
	cfg.ElevenLabsTTSStreaming, err = boolFromEnv("ELEVENLABS_TTS_STREAMING", false)
	if err != nil {
		return Config{}, err
	}
	cfg.OpenClawStream, err = boolFromEnv("OPENCLAW_STREAM", cfg.OpenClawStream)
	if err != nil {
		return Config{}, err
	}

	if cfg.GroqAPIKey == "" {
		cfg.GroqAPIKey = readSecretFile(joinHome(home, ".openclaw/secrets/groq_api_key.txt"))
	}
	gw, err := ReadOpenClawGateway(cfg.OpenClawConfigPath)
	if err != nil {
		return Config{}, err
	}
	if cfg.OpenClawBaseURL == "" {
		cfg.OpenClawBaseURL = fmt.Sprintf("http://127.0.0.1:%d", gw.Port)
	}
	if cfg.OpenClawToken == "" {
		cfg.OpenClawToken = gw.Token
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if c.EvictionInterval <= 0 {
		return fmt.Errorf("APP_EVICTION_INTERVAL must be positive")
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("APP_MAX_SESSIONS must be positive")
	}
	if c.HistoryTurns < 2 {
		return fmt.Errorf("APP_HISTORY_TURNS must be at least 2")
	}
	if c.MaxAudioBytes <= 0 || c.MaxFrameBytes <= 0 {
		return fmt.Errorf("APP_MAX_AUDIO_BYTES and APP_MAX_FRAME_BYTES must be positive")
	}
	if c.STTMaxAttempts <= 0 || c.TTSMaxAttempts <= 0 {
		return fmt.Errorf("STT_MAX_ATTEMPTS and TTS_MAX_ATTEMPTS must be positive")
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("RETRY_MAX_DELAY must be >= RETRY_BASE_DELAY")
	}
	switch c.CallSpeed {
	case "normal", "fast", "slow":
	default:
		return fmt.Errorf("CALL_SPEED must be one of normal, fast, slow")
	}
	if err := oneOf("STT_PROVIDER", c.STTProvider, "auto", "groq", "mock"); err != nil {
		return err
	}
	if err := oneOf("TTS_PROVIDER", c.TTSProvider, "auto", "elevenlabs", "mock", "none"); err != nil {
		return err
	}
	return oneOf("CHAT_PROVIDER", c.ChatProvider, "auto", "openclaw", "gemini", "mock")
}

func oneOf(key, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s", key, strings.Join(allowed, ", "))
}

func joinHome(home, rel string) string {
	if home == "" {
		return ""
	}
	return strings.TrimRight(home, "/") + "/" + rel
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
