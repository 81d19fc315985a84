package httpapi

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/videochat/internal/callerr"
	"github.com/ent0n29/videochat/internal/protocol"
	"github.com/ent0n29/videochat/internal/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsPingInterval = 30 * time.Second
	wsReadLimit    = 2 << 20
)

// handleSessionWS streams one call over a websocket. Audio chunks and frames
// are buffered on the session; a finalize control runs the turn and its
// progress is pushed back as it happens. Closing the socket mid-turn ends
// the session.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	if !s.upgrader.CheckOrigin(r) {
		respondError(w, http.StatusForbidden, "forbidden_origin", "origin not allowed")
		return
	}
	sess, _, err := s.sessions.GetOrCreate(r.URL.Query().Get("session_id"), s.sessionOptions())
	if err != nil {
		respondCallError(w, err)
		return
	}
	sessionID := sess.Key()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	log := s.logger.With("session_id", sessionID)
	log.Info("websocket connected")
	s.metrics.ObserveSessionEvent("ws_connected", s.sessions.ActiveCount())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := &outbox{ch: make(chan any, 256)}
	send := func(msg any) {
		if !out.send(msg) {
			log.Warn("websocket outbound queue full, dropping message", "type", messageTypeOf(msg))
		}
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()
		failed := false
		for {
			select {
			case msg, ok := <-out.ch:
				if !ok {
					if !failed {
						_ = conn.WriteControl(websocket.CloseMessage,
							websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
							time.Now().Add(time.Second))
					}
					return
				}
				if failed {
					continue
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					log.Debug("websocket write failed", "err", err)
					failed = true
					cancel()
					continue
				}
				s.metrics.ObserveWSMessage("outbound", messageTypeOf(msg))
			case <-ping.C:
				if failed {
					continue
				}
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					failed = true
					cancel()
				}
			}
		}
	}()

	send(protocol.SessionState{Type: protocol.TypeSessionState, SessionID: sessionID, State: string(sess.State())})

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	sendError := func(err error) {
		kind := callerr.KindOf(err)
		send(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Kind:      string(kind),
			Retryable: callerr.IsRetryable(err),
			Detail:    callerr.UserMessage(kind),
		})
	}

	var turns sync.WaitGroup
readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Kind:      string(callerr.MalformedInput),
				Detail:    err.Error(),
			})
			continue
		}
		s.metrics.ObserveWSMessage("inbound", messageTypeOf(parsed))

		switch msg := parsed.(type) {
		case protocol.ClientAudioChunk:
			chunk, format, err := decodeChunk(msg)
			if err != nil {
				sendError(err)
				continue
			}
			before := sess.State()
			if err := sess.AppendAudio(chunk, format, msg.SampleRate); err != nil {
				sendError(err)
				continue
			}
			if before != session.StateListening {
				send(protocol.SessionState{Type: protocol.TypeSessionState, SessionID: sessionID, State: string(session.StateListening)})
			}
		case protocol.ClientFrame:
			frame, err := decodeFrame(msg.ImageBase64, msg.MediaType)
			if err != nil {
				sendError(err)
				continue
			}
			if frame == nil {
				continue
			}
			if msg.TSMs > 0 {
				frame.CapturedAt = time.UnixMilli(msg.TSMs).UTC()
			}
			if err := sess.SubmitFrame(*frame); err != nil {
				sendError(err)
			}
		case protocol.ClientControl:
			switch msg.Action {
			case protocol.ActionTerminate:
				if err := s.sessions.Terminate(sessionID); err != nil {
					sendError(err)
				}
				s.replies.DropSession(sessionID)
				send(protocol.SessionState{Type: protocol.TypeSessionState, SessionID: sessionID, State: string(session.StateTerminated)})
				break readLoop
			case protocol.ActionFinalize:
				in := session.TurnInput{
					Language: strings.TrimSpace(msg.Language),
					VoiceID:  strings.TrimSpace(msg.Voice),
					Speed:    strings.TrimSpace(msg.Speed),
					OnEvent:  func(ev session.TurnEvent) { send(eventMessage(sessionID, ev)) },
				}
				turns.Add(1)
				go func() {
					defer turns.Done()
					res, err := sess.RunTurn(ctx, in)
					if err != nil {
						sendError(err)
						return
					}
					out := s.turnResult(sessionID, res)
					out.Type = protocol.TypeTurnResult
					send(out)
				}()
			}
		}
	}

	cancel()
	turns.Wait()
	out.close()
	<-writerDone
	log.Info("websocket disconnected")
	s.metrics.ObserveSessionEvent("ws_disconnected", s.sessions.ActiveCount())
}

// outbox is the writer goroutine's queue. A turn abandoned by a disconnect
// may still report progress after the socket is gone, so sends after close
// are dropped instead of panicking.
type outbox struct {
	mu     sync.Mutex
	ch     chan any
	closed bool
}

// send reports false only when the queue is full.
func (o *outbox) send(msg any) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return true
	}
	select {
	case o.ch <- msg:
		return true
	default:
		return false
	}
}

func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.ch)
	}
}

func decodeChunk(msg protocol.ClientAudioChunk) ([]byte, string, error) {
	if msg.PCM16Base64 != "" {
		data, err := base64.StdEncoding.DecodeString(msg.PCM16Base64)
		if err != nil {
			return nil, "", callerr.New(callerr.MalformedInput, "httpapi.ws", "pcm16_base64 is not valid base64")
		}
		return data, session.FormatPCM16, nil
	}
	data, err := base64.StdEncoding.DecodeString(msg.AudioBase64)
	if err != nil {
		return nil, "", callerr.New(callerr.MalformedInput, "httpapi.ws", "audio_base64 is not valid base64")
	}
	return data, normalizeAudioFormat(msg.Format), nil
}

func eventMessage(sessionID string, ev session.TurnEvent) any {
	switch ev.Type {
	case session.EventTranscript:
		return protocol.STTCommitted{Type: protocol.TypeSTTCommitted, SessionID: sessionID, TurnID: ev.TurnID, Text: ev.Transcript}
	case session.EventTextDelta:
		return protocol.AssistantTextDelta{Type: protocol.TypeAssistantTextDelta, SessionID: sessionID, TurnID: ev.TurnID, TextDelta: ev.Delta}
	default:
		return protocol.SessionState{Type: protocol.TypeSessionState, SessionID: sessionID, TurnID: ev.TurnID, State: string(ev.State)}
	}
}

func messageTypeOf(v any) string {
	switch m := v.(type) {
	case protocol.ClientAudioChunk:
		return string(m.Type)
	case protocol.ClientFrame:
		return string(m.Type)
	case protocol.ClientControl:
		return string(m.Type)
	case protocol.SessionState:
		return string(m.Type)
	case protocol.STTCommitted:
		return string(m.Type)
	case protocol.AssistantTextDelta:
		return string(m.Type)
	case protocol.TurnResult:
		return string(m.Type)
	case protocol.ErrorEvent:
		return string(m.Type)
	default:
		return "unknown"
	}
}
