package voice

import "context"

// AudioClip is one captured utterance as sent by the browser.
type AudioClip struct {
	Data       []byte
	Format     string // webm, wav, ogg, mp3, m4a ...
	SampleRate int
}

type TranscribeOptions struct {
	Language string
}

type Transcript struct {
	Text     string
	Language string
	Duration float64
}

// STTProvider turns an utterance into text. An empty transcript means no
// speech was detected and is not an error.
type STTProvider interface {
	Name() string
	Transcribe(ctx context.Context, clip AudioClip, opts TranscribeOptions) (Transcript, error)
}

type VoiceConfig struct {
	VoiceID  string
	ModelID  string
	Language string
	Speed    float64
}

// Synthesis is playback-ready audio. Format is the provider format tag
// (mp3_44100_128, pcm_16000, ...); ContentType is what the browser gets.
type Synthesis struct {
	Audio       []byte
	Format      string
	ContentType string
}

type TTSProvider interface {
	Name() string
	Synthesize(ctx context.Context, text string, cfg VoiceConfig) (Synthesis, error)
}
