package voice

import (
	"context"
	"strings"
)

// MockTranscript is what MockProvider hears in any non-silent clip.
const MockTranscript = "simulated voice input"

// MockProvider is a local fallback used when no cloud keys are configured.
// It implements both STTProvider and TTSProvider.
type MockProvider struct {
	// Transcript overrides MockTranscript when set.
	Transcript string
}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Name() string { return "mock" }

// Transcribe returns an empty transcript for silent (all-zero) audio.
func (p *MockProvider) Transcribe(_ context.Context, clip AudioClip, _ TranscribeOptions) (Transcript, error) {
	if isSilent(clip.Data) {
		return Transcript{}, nil
	}
	text := MockTranscript
	if strings.TrimSpace(p.Transcript) != "" {
		text = p.Transcript
	}
	return Transcript{Text: text}, nil
}

func (p *MockProvider) Synthesize(_ context.Context, text string, _ VoiceConfig) (Synthesis, error) {
	return Synthesis{
		Audio:       []byte(text),
		Format:      "mock_text_bytes",
		ContentType: ContentTypeForFormat("mock_text_bytes"),
	}, nil
}

func isSilent(data []byte) bool {
	// Skip a WAV header so a silent WAV counts as silent.
	if len(data) >= 44 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE" {
		data = data[44:]
	}
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}
