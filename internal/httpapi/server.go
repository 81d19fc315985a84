package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/videochat/internal/audio"
	"github.com/ent0n29/videochat/internal/callerr"
	"github.com/ent0n29/videochat/internal/config"
	"github.com/ent0n29/videochat/internal/observability"
	"github.com/ent0n29/videochat/internal/session"
)

type Server struct {
	cfg       config.Config
	sessions  *session.Manager
	replies   *audio.ReplyStore
	readiness Readiness
	metrics   *observability.Metrics
	logger    *slog.Logger
	upgrader  websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, replies *audio.ReplyStore, readiness Readiness, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if replies == nil {
		replies = audio.NewReplyStore(cfg.ReplyAudioTTL, 0)
	}
	return &Server{
		cfg:       cfg,
		sessions:  sessions,
		replies:   replies,
		readiness: readiness,
		metrics:   metrics,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only drive a call from the page that served them.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID, recoverer(s.logger), accessLog(s.logger))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/config", s.handleConfig)
		r.Get("/status", s.handleStatus)
		r.Post("/turn", s.handleTurn)
		r.Post("/terminate", s.handleTerminate)
		r.Get("/audio/{id}", s.handleAudio)
		r.Get("/session/ws", s.handleSessionWS)
		r.Get("/perf/latency", s.handlePerfLatency)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.readiness.Ready() {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"checks": s.readiness.Checks,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

type configResponse struct {
	AgentName string `json:"agent_name"`
	UserName  string `json:"user_name"`
	Ready     bool   `json:"ready"`
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, configResponse{
		AgentName: s.cfg.AgentName,
		UserName:  s.cfg.UserName,
		Ready:     s.readiness.Ready(),
	})
}

type terminateRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	var req terminateRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, string(callerr.MalformedInput), err.Error())
			return
		}
	} else {
		req.SessionID = r.FormValue("session_id")
	}
	if req.SessionID == "" {
		req.SessionID = r.URL.Query().Get("session_id")
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		respondError(w, http.StatusBadRequest, string(callerr.MalformedInput), "session_id is required")
		return
	}

	if err := s.sessions.Terminate(req.SessionID); err != nil {
		respondCallError(w, err)
		return
	}
	s.replies.DropSession(req.SessionID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	reply, ok := s.replies.Get(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusNotFound, "not_found", "audio not found or expired")
		return
	}
	contentType := reply.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(reply.Data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(reply.Data)
}

// sessionOptions are the per-call defaults from configuration.
func (s *Server) sessionOptions() session.Options {
	return session.Options{
		AgentName: s.cfg.AgentName,
		UserName:  s.cfg.UserName,
		Language:  s.cfg.CallLanguage,
		VoiceID:   s.cfg.ElevenLabsTTSVoice,
		Speed:     s.cfg.CallSpeed,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
