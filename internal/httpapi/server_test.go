package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ent0n29/videochat/internal/audio"
	"github.com/ent0n29/videochat/internal/callerr"
	"github.com/ent0n29/videochat/internal/config"
	"github.com/ent0n29/videochat/internal/observability"
	"github.com/ent0n29/videochat/internal/openclaw"
	"github.com/ent0n29/videochat/internal/session"
	"github.com/ent0n29/videochat/internal/voice"
)

var metricsSeq atomic.Int64

func testMetrics() *observability.Metrics {
	return observability.NewMetrics(fmt.Sprintf("test_httpapi_%d_%d", time.Now().UnixNano(), metricsSeq.Add(1)))
}

type testEnv struct {
	srv      *Server
	ts       *httptest.Server
	sessions *session.Manager
	replies  *audio.ReplyStore
}

type envOption func(*config.Config, *session.Pipeline, *session.ManagerConfig)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	cfg := config.Config{
		AgentName:                "Ava",
		UserName:                 "Sam",
		CallLanguage:             "en",
		CallSpeed:                "normal",
		SessionInactivityTimeout: 2 * time.Minute,
		MaxAudioBytes:            1 << 20,
		MaxFrameBytes:            1 << 20,
		ReplyAudioTTL:            time.Minute,
	}
	metrics := testMetrics()
	pipeline := &session.Pipeline{
		STT:     &voice.MockProvider{Transcript: "hello"},
		Chat:    &openclaw.MockAdapter{Replies: map[string]string{"hello": "Hi there!"}},
		TTS:     voice.NewMockProvider(),
		Metrics: metrics,
	}
	mcfg := session.ManagerConfig{
		InactivityTimeout: cfg.SessionInactivityTimeout,
		Limits:            session.Limits{HistoryTurns: 20, MaxAudioBytes: cfg.MaxAudioBytes, MaxFrameBytes: cfg.MaxFrameBytes},
	}
	for _, opt := range opts {
		opt(&cfg, pipeline, &mcfg)
	}
	sessions := session.NewManager(mcfg, pipeline)
	replies := audio.NewReplyStore(cfg.ReplyAudioTTL, 16)
	srv := New(cfg, sessions, replies, ReadinessFor(cfg, "mock", "mock", "mock"), metrics, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{srv: srv, ts: ts, sessions: sessions, replies: replies}
}

type failingChat struct{ err error }

func (f failingChat) Name() string { return "failing" }

func (f failingChat) Complete(context.Context, openclaw.CompletionRequest, openclaw.DeltaHandler) (openclaw.Completion, error) {
	return openclaw.Completion{}, f.err
}

type blockingSTT struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingSTT) Name() string { return "blocking" }

func (b *blockingSTT) Transcribe(ctx context.Context, _ voice.AudioClip, _ voice.TranscribeOptions) (voice.Transcript, error) {
	select {
	case b.started <- struct{}{}:
	default:
	}
	<-b.release
	return voice.Transcript{Text: "hello"}, nil
}

func multipartTurnBody(t *testing.T, sessionID string, audioData []byte, extra map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if sessionID != "" {
		_ = mw.WriteField("session_id", sessionID)
	}
	for k, v := range extra {
		_ = mw.WriteField(k, v)
	}
	if audioData != nil {
		fw, err := mw.CreateFormFile("audio", "clip.webm")
		if err != nil {
			t.Fatalf("CreateFormFile() error = %v", err)
		}
		_, _ = fw.Write(audioData)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("multipart close error = %v", err)
	}
	return &body, mw.FormDataContentType()
}

func postMultipartTurn(t *testing.T, url, sessionID string, audioData []byte, extra map[string]string) *http.Response {
	t.Helper()
	body, contentType := multipartTurnBody(t, sessionID, audioData, extra)
	res, err := http.Post(url+"/api/turn", contentType, body)
	if err != nil {
		t.Fatalf("POST /api/turn error = %v", err)
	}
	return res
}

func decodeBody[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	defer res.Body.Close()
	var out T
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestConfigEndpoint(t *testing.T) {
	env := newTestEnv(t)
	res, err := http.Get(env.ts.URL + "/api/config")
	if err != nil {
		t.Fatalf("GET /api/config error = %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	got := decodeBody[configResponse](t, res)
	if got.AgentName != "Ava" || got.UserName != "Sam" || !got.Ready {
		t.Fatalf("config = %+v", got)
	}
	if env.sessions.ActiveCount() != 0 {
		t.Fatalf("config query created a session")
	}
}

func TestReadinessWithoutSpeechKey(t *testing.T) {
	cfg := config.Config{AgentName: "Ava"}
	r := ReadinessFor(cfg, "groq", "mock", "none")
	if r.Ready() {
		t.Fatalf("Ready() = true without GROQ_API_KEY")
	}

	srv := New(cfg, session.NewManager(session.ManagerConfig{}, nil), nil, r, nil, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("/readyz status = %d, want %d", res.StatusCode, http.StatusServiceUnavailable)
	}

	cfgRes, err := http.Get(ts.URL + "/api/config")
	if err != nil {
		t.Fatalf("GET /api/config error = %v", err)
	}
	if got := decodeBody[configResponse](t, cfgRes); got.Ready {
		t.Fatalf("config ready = true, want false")
	}
}

func TestReadinessMissingTTSKeyOnlyWarns(t *testing.T) {
	r := ReadinessFor(config.Config{GroqAPIKey: "k", OpenClawBaseURL: "http://127.0.0.1:18789"}, "groq", "openclaw", "elevenlabs")
	if !r.Ready() {
		t.Fatalf("Ready() = false, checks = %+v", r.Checks)
	}
}

func TestTurnHelloScenario(t *testing.T) {
	env := newTestEnv(t)

	res := postMultipartTurn(t, env.ts.URL, "call-1", []byte("hello-audio"), nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	got := decodeBody[map[string]any](t, res)
	if got["status"] != "ok" || got["reply_text"] != "Hi there!" || got["transcript"] != "hello" {
		t.Fatalf("turn response = %+v", got)
	}
	if got["session_id"] != "call-1" {
		t.Fatalf("session_id = %v, want call-1", got["session_id"])
	}
	audioURL, _ := got["audio_url"].(string)
	if !strings.HasPrefix(audioURL, "/api/audio/") {
		t.Fatalf("audio_url = %q", audioURL)
	}

	audioRes, err := http.Get(env.ts.URL + audioURL)
	if err != nil {
		t.Fatalf("GET audio error = %v", err)
	}
	defer audioRes.Body.Close()
	data, _ := io.ReadAll(audioRes.Body)
	if audioRes.StatusCode != http.StatusOK || string(data) != "Hi there!" {
		t.Fatalf("audio = %d %q", audioRes.StatusCode, data)
	}
	if ct := audioRes.Header.Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Fatalf("audio content type = %q", ct)
	}

	sess, err := env.sessions.Lookup("call-1")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	h := sess.History()
	if len(h) != 2 || h[0].Text != "hello" || h[1].Text != "Hi there!" {
		t.Fatalf("history = %+v", h)
	}
	if sess.State() != session.StateIdle {
		t.Fatalf("state = %s, want idle", sess.State())
	}
}

func TestTurnJSONWithFrame(t *testing.T) {
	env := newTestEnv(t)
	frame := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	body, _ := json.Marshal(map[string]any{
		"session_id":   "call-json",
		"audio_base64": base64.StdEncoding.EncodeToString([]byte("hello-audio")),
		"audio_format": "audio/webm;codecs=opus",
		"frame_base64": frame,
	})
	res, err := http.Post(env.ts.URL+"/api/turn", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/turn error = %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	got := decodeBody[map[string]any](t, res)
	if got["status"] != "ok" {
		t.Fatalf("turn response = %+v", got)
	}
	sess, err := env.sessions.Lookup("call-json")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	h := sess.History()
	if len(h) != 2 || len(h[0].Frames) != 1 || h[0].Frames[0].MediaType != "image/png" {
		t.Fatalf("history = %+v", h)
	}
	if len(h[1].Frames) != 0 {
		t.Fatalf("assistant turn carries frames: %+v", h[1])
	}
}

func TestTurnEmptyKeyMintsSession(t *testing.T) {
	env := newTestEnv(t)
	res := postMultipartTurn(t, env.ts.URL, "", []byte("hello-audio"), nil)
	got := decodeBody[map[string]any](t, res)
	id, _ := got["session_id"].(string)
	if id == "" {
		t.Fatalf("missing minted session_id: %+v", got)
	}
	if _, err := env.sessions.Lookup(id); err != nil {
		t.Fatalf("Lookup(%q) error = %v", id, err)
	}
}

func TestTurnMissingAudio(t *testing.T) {
	env := newTestEnv(t)
	res := postMultipartTurn(t, env.ts.URL, "call-1", nil, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
	got := decodeBody[errorResponse](t, res)
	if got.Code != string(callerr.MalformedInput) {
		t.Fatalf("code = %q, want %q", got.Code, callerr.MalformedInput)
	}
}

func TestTurnJSONBodyErrors(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name string
		body string
		want string
	}{
		{"empty body", "", "audio is required"},
		{"truncated body", `{"session_id":"call-1","audio_base64":"AQ`, "invalid JSON body"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := http.Post(env.ts.URL+"/api/turn", "application/json", strings.NewReader(tc.body))
			if err != nil {
				t.Fatalf("POST /api/turn error = %v", err)
			}
			if res.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
			}
			got := decodeBody[errorResponse](t, res)
			if got.Code != string(callerr.MalformedInput) || got.Error != tc.want {
				t.Fatalf("body = %+v, want %q", got, tc.want)
			}
		})
	}
}

func TestTurnSilentAudioSkipsChat(t *testing.T) {
	env := newTestEnv(t, func(_ *config.Config, p *session.Pipeline, _ *session.ManagerConfig) {
		p.Chat = failingChat{err: callerr.New(callerr.GatewayUnavailable, "chat", "should not be called")}
	})
	res := postMultipartTurn(t, env.ts.URL, "call-1", make([]byte, 64), nil)
	got := decodeBody[map[string]any](t, res)
	if got["status"] != "ok" || got["transcript"] != "" {
		t.Fatalf("turn response = %+v", got)
	}
	if _, ok := got["reply_text"]; ok {
		t.Fatalf("silent turn produced a reply: %+v", got)
	}
}

func TestTurnChatFailureIsReportedInBody(t *testing.T) {
	env := newTestEnv(t, func(_ *config.Config, p *session.Pipeline, _ *session.ManagerConfig) {
		p.Chat = failingChat{err: callerr.New(callerr.GatewayUnavailable, "chat", "connection refused")}
	})
	res := postMultipartTurn(t, env.ts.URL, "call-1", []byte("hello-audio"), nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	got := decodeBody[map[string]any](t, res)
	if got["status"] != "error" || got["error_kind"] != string(callerr.GatewayUnavailable) {
		t.Fatalf("turn response = %+v", got)
	}
	if got["transcript"] != "hello" {
		t.Fatalf("transcript = %v, want partial progress kept", got["transcript"])
	}
	sess, _ := env.sessions.Lookup("call-1")
	if sess.State() != session.StateIdle || len(sess.History()) != 0 {
		t.Fatalf("state = %s history = %d", sess.State(), len(sess.History()))
	}
}

func TestTurnInProgressConflict(t *testing.T) {
	stt := &blockingSTT{started: make(chan struct{}, 1), release: make(chan struct{})}
	env := newTestEnv(t, func(_ *config.Config, p *session.Pipeline, _ *session.ManagerConfig) {
		p.STT = stt
	})

	body, contentType := multipartTurnBody(t, "call-1", []byte("hello-audio"), nil)
	first := make(chan *http.Response, 1)
	go func() {
		res, err := http.Post(env.ts.URL+"/api/turn", contentType, body)
		if err != nil {
			first <- nil
			return
		}
		first <- res
	}()
	select {
	case <-stt.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("first turn never reached STT")
	}

	res := postMultipartTurn(t, env.ts.URL, "call-1", []byte("more-audio"), nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
	res.Body.Close()

	close(stt.release)
	firstRes := <-first
	if firstRes == nil {
		t.Fatalf("first turn request failed")
	}
	if firstRes.StatusCode != http.StatusOK {
		t.Fatalf("first status = %d, want %d", firstRes.StatusCode, http.StatusOK)
	}
	firstRes.Body.Close()
}

func TestSessionLimit(t *testing.T) {
	env := newTestEnv(t, func(_ *config.Config, _ *session.Pipeline, m *session.ManagerConfig) {
		m.MaxSessions = 1
	})
	postMultipartTurn(t, env.ts.URL, "call-1", []byte("hello-audio"), nil).Body.Close()
	res := postMultipartTurn(t, env.ts.URL, "call-2", []byte("hello-audio"), nil)
	if res.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusTooManyRequests)
	}
	got := decodeBody[errorResponse](t, res)
	if got.Code != string(callerr.SessionLimitExceeded) {
		t.Fatalf("code = %q", got.Code)
	}
}

func TestTerminate(t *testing.T) {
	env := newTestEnv(t)
	got := decodeBody[map[string]any](t, postMultipartTurn(t, env.ts.URL, "call-1", []byte("hello-audio"), nil))
	audioURL, _ := got["audio_url"].(string)

	body, _ := json.Marshal(map[string]string{"session_id": "call-1"})
	res, err := http.Post(env.ts.URL+"/api/terminate", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/terminate error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("terminate status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}

	again, err := http.Post(env.ts.URL+"/api/terminate", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("second terminate error = %v", err)
	}
	again.Body.Close()
	if again.StatusCode != http.StatusNoContent {
		t.Fatalf("second terminate status = %d, want %d", again.StatusCode, http.StatusNoContent)
	}

	turn := postMultipartTurn(t, env.ts.URL, "call-1", []byte("hello-audio"), nil)
	turn.Body.Close()
	if turn.StatusCode != http.StatusGone {
		t.Fatalf("turn after terminate status = %d, want %d", turn.StatusCode, http.StatusGone)
	}

	audioRes, err := http.Get(env.ts.URL + audioURL)
	if err != nil {
		t.Fatalf("GET audio error = %v", err)
	}
	audioRes.Body.Close()
	if audioRes.StatusCode != http.StatusNotFound {
		t.Fatalf("audio after terminate status = %d, want %d", audioRes.StatusCode, http.StatusNotFound)
	}
}

func TestTerminateUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	res, err := http.Post(env.ts.URL+"/api/terminate?session_id=nope", "application/x-www-form-urlencoded", nil)
	if err != nil {
		t.Fatalf("POST /api/terminate error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusGone {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusGone)
	}
}

func TestIdleEvictedSessionIsClosed(t *testing.T) {
	env := newTestEnv(t)
	postMultipartTurn(t, env.ts.URL, "call-1", []byte("hello-audio"), nil).Body.Close()

	evicted := env.sessions.EvictIdle(time.Now().Add(time.Hour))
	if len(evicted) != 1 {
		t.Fatalf("EvictIdle() = %v, want one key", evicted)
	}
	res := postMultipartTurn(t, env.ts.URL, "call-1", []byte("hello-audio"), nil)
	res.Body.Close()
	if res.StatusCode != http.StatusGone {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusGone)
	}
}

func TestPerfLatency(t *testing.T) {
	env := newTestEnv(t)
	postMultipartTurn(t, env.ts.URL, "call-1", []byte("hello-audio"), nil).Body.Close()

	res, err := http.Get(env.ts.URL + "/api/perf/latency")
	if err != nil {
		t.Fatalf("GET /api/perf/latency error = %v", err)
	}
	got := decodeBody[map[string]any](t, res)
	if _, ok := got["stages"]; !ok {
		t.Fatalf("missing stages: %+v", got)
	}
}

func TestStatusForKind(t *testing.T) {
	cases := map[callerr.Kind]int{
		callerr.MalformedInput:       http.StatusBadRequest,
		callerr.SessionClosed:        http.StatusGone,
		callerr.TurnInProgress:       http.StatusConflict,
		callerr.SessionLimitExceeded: http.StatusTooManyRequests,
		callerr.AuthMissing:          http.StatusServiceUnavailable,
		callerr.UpstreamTimeout:      http.StatusGatewayTimeout,
		callerr.UpstreamRejected:     http.StatusBadGateway,
		callerr.GatewayUnavailable:   http.StatusBadGateway,
		callerr.GatewayError:         http.StatusBadGateway,
		callerr.Internal:             http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := statusForKind(kind); got != want {
			t.Errorf("statusForKind(%s) = %d, want %d", kind, got, want)
		}
	}
}

func TestNormalizeAudioFormat(t *testing.T) {
	cases := map[string]string{
		"audio/webm;codecs=opus": "webm",
		".wav":                   "wav",
		"audio/x-wav":            "wav",
		"audio/mpeg":             "mp3",
		"pcm16":                  session.FormatPCM16,
		"":                       "",
	}
	for in, want := range cases {
		if got := normalizeAudioFormat(in); got != want {
			t.Errorf("normalizeAudioFormat(%q) = %q, want %q", in, got, want)
		}
	}
}
