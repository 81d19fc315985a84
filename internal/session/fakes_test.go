package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/videochat/internal/openclaw"
	"github.com/ent0n29/videochat/internal/voice"
)

type fakeSTT struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
	clips [][]byte // the slices handed over, not copies
	seen  [][]byte // copies taken at call time
}

func (f *fakeSTT) Name() string { return "fake-stt" }

func (f *fakeSTT) Transcribe(_ context.Context, clip voice.AudioClip, _ voice.TranscribeOptions) (voice.Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.clips = append(f.clips, clip.Data)
	f.seen = append(f.seen, append([]byte(nil), clip.Data...))
	if f.err != nil {
		return voice.Transcript{}, f.err
	}
	return voice.Transcript{Text: f.text}, nil
}

type fakeChat struct {
	mu       sync.Mutex
	reply    string
	err      error
	calls    int
	requests []openclaw.CompletionRequest
	// block, when set for a session id, is waited on before replying.
	block   map[string]chan struct{}
	entered chan string
}

func (f *fakeChat) Name() string { return "fake-chat" }

func (f *fakeChat) Complete(_ context.Context, req openclaw.CompletionRequest, onDelta openclaw.DeltaHandler) (openclaw.Completion, error) {
	f.mu.Lock()
	f.calls++
	f.requests = append(f.requests, req)
	gate := f.block[req.SessionID]
	reply, err := f.reply, f.err
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- req.SessionID
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return openclaw.Completion{}, err
	}
	if onDelta != nil {
		_ = onDelta(reply)
	}
	return openclaw.Completion{Text: reply}, nil
}

func (f *fakeChat) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeTTS struct {
	audio []byte
	err   error
}

func (f *fakeTTS) Name() string { return "fake-tts" }

func (f *fakeTTS) Synthesize(_ context.Context, _ string, _ voice.VoiceConfig) (voice.Synthesis, error) {
	if f.err != nil {
		return voice.Synthesis{}, f.err
	}
	return voice.Synthesis{Audio: f.audio, Format: "mp3_44100_128", ContentType: "audio/mpeg"}, nil
}

func newTestPipeline(stt voice.STTProvider, chat openclaw.Adapter, tts voice.TTSProvider) *Pipeline {
	return &Pipeline{STT: stt, Chat: chat, TTS: tts, ChatTimeout: 5 * time.Second}
}

func newTestSession(p *Pipeline) *Session {
	return New("s1", Options{AgentName: "Ava", UserName: "Sam"}, Limits{HistoryTurns: 20, MaxAudioBytes: 1 << 20, MaxFrameBytes: 1 << 20}, p)
}

func waitForState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state = %q, want %q", s.State(), want)
}
