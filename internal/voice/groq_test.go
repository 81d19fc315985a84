package voice

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ent0n29/videochat/internal/callerr"
)

func TestGroqTranscribe(t *testing.T) {
	var gotAuth, gotModel, gotLang, gotFile string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("path = %q, want /audio/transcriptions", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm() error = %v", err)
		}
		gotModel = r.FormValue("model")
		gotLang = r.FormValue("language")
		f, hdr, err := r.FormFile("file")
		if err == nil {
			b, _ := io.ReadAll(f)
			gotFile = hdr.Filename + ":" + string(b)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"  hello  "}`))
	}))
	defer srv.Close()

	p := NewGroqProvider(GroqConfig{APIKey: "k", BaseURL: srv.URL})
	got, err := p.Transcribe(context.Background(), AudioClip{Data: []byte("RIFF"), Format: "audio/wav"}, TranscribeOptions{Language: "en"})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if got.Text != "hello" {
		t.Fatalf("Text = %q, want %q", got.Text, "hello")
	}
	if gotAuth != "Bearer k" || gotModel != defaultGroqModel || gotLang != "en" {
		t.Fatalf("auth=%q model=%q lang=%q", gotAuth, gotModel, gotLang)
	}
	if gotFile != "audio.wav:RIFF" {
		t.Fatalf("file = %q, want %q", gotFile, "audio.wav:RIFF")
	}
}

func TestGroqTranscribeWithoutKeyIsAuthMissing(t *testing.T) {
	p := NewGroqProvider(GroqConfig{})
	_, err := p.Transcribe(context.Background(), AudioClip{Data: []byte{1}}, TranscribeOptions{})
	if !errors.Is(err, callerr.ErrAuthMissing) {
		t.Fatalf("error = %v, want auth_missing", err)
	}
}

func TestGroqTranscribeClassifiesStatus(t *testing.T) {
	cases := []struct {
		status int
		want   callerr.Kind
	}{
		{http.StatusBadRequest, callerr.UpstreamRejected},
		{http.StatusUnauthorized, callerr.UpstreamRejected},
		{http.StatusInternalServerError, callerr.UpstreamRejected},
		{http.StatusTooManyRequests, callerr.UpstreamTimeout},
		{http.StatusServiceUnavailable, callerr.UpstreamTimeout},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "nope", tc.status)
		}))
		p := NewGroqProvider(GroqConfig{APIKey: "k", BaseURL: srv.URL})
		_, err := p.Transcribe(context.Background(), AudioClip{Data: []byte{1}}, TranscribeOptions{})
		srv.Close()
		if got := callerr.KindOf(err); got != tc.want {
			t.Fatalf("status %d: kind = %q, want %q (err=%v)", tc.status, got, tc.want, err)
		}
	}
}

func TestFileExtension(t *testing.T) {
	cases := map[string]string{
		"":                       "webm",
		"audio/webm;codecs=opus": "webm",
		"wav":                    "wav",
		"pcm_16000":              "wav",
		"audio/mpeg":             "mp3",
		"ogg":                    "ogg",
	}
	for in, want := range cases {
		if got := fileExtension(in); got != want {
			t.Fatalf("fileExtension(%q) = %q, want %q", in, got, want)
		}
	}
}
