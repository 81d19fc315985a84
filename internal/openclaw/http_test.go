package openclaw

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ent0n29/videochat/internal/callerr"
)

func TestHTTPAdapterJSONReply(t *testing.T) {
	var got chatRequest
	var gotAgent, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotAgent = r.Header.Get("x-openclaw-agent-id")
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" Hi there! "}}]}`))
	}))
	defer srv.Close()

	a := NewHTTPAdapter(HTTPConfig{BaseURL: srv.URL, Token: "tok"})
	res, err := a.Complete(context.Background(), CompletionRequest{
		SessionID: "s1",
		Messages: []Message{
			{Role: RoleUser, Text: "earlier"},
			{Role: RoleAssistant, Text: "ok"},
			{Role: RoleUser, Text: "hello", Image: &Image{MediaType: "image/png", Data: []byte{1, 2}}},
		},
	}, nil)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if res.Text != "Hi there!" {
		t.Fatalf("Text = %q", res.Text)
	}
	if gotAgent != defaultAgentID || gotAuth != "Bearer tok" || got.Model != defaultModel || got.User != "videochat-s1" {
		t.Fatalf("agent=%q auth=%q model=%q user=%q", gotAgent, gotAuth, got.Model, got.User)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(got.Messages))
	}
	parts, ok := got.Messages[2].Content.([]any)
	if !ok || len(parts) != 2 {
		t.Fatalf("last message content = %#v, want text + image parts", got.Messages[2].Content)
	}
	img, _ := parts[1].(map[string]any)["image_url"].(map[string]any)
	if url, _ := img["url"].(string); !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Fatalf("image url = %v", img["url"])
	}
}

func TestHTTPAdapterStreamsSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range []string{"Hi", " there", "!"} {
			_, _ = w.Write([]byte(`data: {"choices":[{"delta":{"content":"` + d + `"}}]}` + "\n\n"))
		}
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	var deltas []string
	a := NewHTTPAdapter(HTTPConfig{BaseURL: srv.URL, Stream: true})
	res, err := a.Complete(context.Background(), CompletionRequest{Messages: []Message{{Role: RoleUser, Text: "hello"}}}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if res.Text != "Hi there!" || strings.Join(deltas, "") != "Hi there!" || len(deltas) != 1 {
		t.Fatalf("text=%q deltas=%v", res.Text, deltas)
	}
}

func TestHTTPAdapterErrors(t *testing.T) {
	t.Run("non-2xx is gateway error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "agent crashed", http.StatusInternalServerError)
		}))
		defer srv.Close()
		_, err := NewHTTPAdapter(HTTPConfig{BaseURL: srv.URL}).Complete(context.Background(), CompletionRequest{}, nil)
		if !errors.Is(err, callerr.ErrGatewayError) || !strings.Contains(err.Error(), "agent crashed") {
			t.Fatalf("error = %v", err)
		}
	})

	t.Run("empty reply is gateway error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"   "}}]}`))
		}))
		defer srv.Close()
		_, err := NewHTTPAdapter(HTTPConfig{BaseURL: srv.URL}).Complete(context.Background(), CompletionRequest{}, nil)
		if !errors.Is(err, callerr.ErrGatewayError) {
			t.Fatalf("error = %v", err)
		}
	})

	t.Run("unreachable is gateway unavailable", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		addr := ln.Addr().String()
		_ = ln.Close()
		_, err = NewHTTPAdapter(HTTPConfig{BaseURL: "http://" + addr}).Complete(context.Background(), CompletionRequest{}, nil)
		if !errors.Is(err, callerr.ErrGatewayUnavailable) {
			t.Fatalf("error = %v", err)
		}
	})
}
