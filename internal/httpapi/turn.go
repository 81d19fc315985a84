package httpapi

import (
	"encoding/base64"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/ent0n29/videochat/internal/callerr"
	"github.com/ent0n29/videochat/internal/protocol"
	"github.com/ent0n29/videochat/internal/session"
)

const multipartMemory = 8 << 20

// turnRequest is the JSON form of POST /api/turn. Binary fields are base64;
// frame_base64 may also be a data URL.
type turnRequest struct {
	SessionID      string `json:"session_id"`
	AudioBase64    string `json:"audio_base64"`
	AudioFormat    string `json:"audio_format"`
	SampleRate     int    `json:"sample_rate"`
	FrameBase64    string `json:"frame_base64"`
	FrameMediaType string `json:"frame_media_type"`
	Language       string `json:"language"`
	Voice          string `json:"voice"`
	Speed          string `json:"speed"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxTurnBody())

	req, in, err := s.parseTurn(r)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			err = callerr.New(callerr.MalformedInput, "httpapi.turn", "request body too large")
		}
		respondCallError(w, err)
		return
	}
	if len(in.Audio) == 0 {
		respondCallError(w, callerr.New(callerr.MalformedInput, "httpapi.turn", "audio is required"))
		return
	}

	sess, created, err := s.sessions.GetOrCreate(req.SessionID, s.sessionOptions())
	if err != nil {
		respondCallError(w, err)
		return
	}
	if created {
		s.logger.Info("session started", "session_id", sess.Key(), "request_id", requestIDFrom(r.Context()))
	}

	res, err := sess.RunTurn(r.Context(), in)
	if err != nil {
		respondCallError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.turnResult(sess.Key(), res))
}

// turnResult renders a session result for the wire. Synthesized audio is
// parked in the reply store and referenced by URL.
func (s *Server) turnResult(sessionID string, res session.TurnResult) protocol.TurnResult {
	out := protocol.TurnResult{
		SessionID:    sessionID,
		TurnID:       res.TurnID,
		Status:       string(res.Status),
		Transcript:   res.Transcript,
		ReplyText:    res.ReplyText,
		ErrorKind:    string(res.ErrorKind),
		ErrorMessage: res.ErrorMessage,
		SpeechError:  string(res.SpeechErrorKind),
	}
	if len(res.Audio) > 0 {
		id := s.replies.Put(sessionID, res.Audio, res.AudioContentType)
		out.AudioURL = "/api/audio/" + id
		out.AudioType = res.AudioContentType
	}
	return out
}

func (s *Server) parseTurn(r *http.Request) (turnRequest, session.TurnInput, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return s.parseMultipartTurn(r)
	}

	const op = "httpapi.turn"
	var req turnRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			return req, session.TurnInput{}, callerr.New(callerr.MalformedInput, op, "audio is required")
		}
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return req, session.TurnInput{}, err
		}
		return req, session.TurnInput{}, &callerr.Error{Kind: callerr.MalformedInput, Op: op, Detail: "invalid JSON body", Err: err}
	}
	in := session.TurnInput{
		AudioFormat: normalizeAudioFormat(req.AudioFormat),
		SampleRate:  req.SampleRate,
		Language:    strings.TrimSpace(req.Language),
		VoiceID:     strings.TrimSpace(req.Voice),
		Speed:       strings.TrimSpace(req.Speed),
	}
	if req.AudioBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(req.AudioBase64)
		if err != nil {
			return req, in, callerr.New(callerr.MalformedInput, op, "audio_base64 is not valid base64")
		}
		in.Audio = data
	}
	if req.FrameBase64 != "" {
		frame, err := decodeFrame(req.FrameBase64, req.FrameMediaType)
		if err != nil {
			return req, in, err
		}
		in.Frame = frame
	}
	return req, in, nil
}

func (s *Server) parseMultipartTurn(r *http.Request) (turnRequest, session.TurnInput, error) {
	const op = "httpapi.turn"
	var req turnRequest
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return req, session.TurnInput{}, err
		}
		return req, session.TurnInput{}, callerr.Wrap(callerr.MalformedInput, op, err)
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	req.SessionID = r.FormValue("session_id")
	in := session.TurnInput{
		Language: strings.TrimSpace(r.FormValue("language")),
		VoiceID:  strings.TrimSpace(r.FormValue("voice")),
		Speed:    strings.TrimSpace(r.FormValue("speed")),
	}
	if v := r.FormValue("sample_rate"); v != "" {
		rate, err := strconv.Atoi(v)
		if err != nil || rate <= 0 {
			return req, in, callerr.New(callerr.MalformedInput, op, "sample_rate must be a positive integer")
		}
		in.SampleRate = rate
	}

	if file, hdr, err := r.FormFile("audio"); err == nil {
		data, err := readPart(file)
		if err != nil {
			return req, in, err
		}
		in.Audio = data
		in.AudioFormat = audioFormatOf(r.FormValue("audio_format"), hdr.Header.Get("Content-Type"), path.Ext(hdr.Filename))
	} else if !errors.Is(err, http.ErrMissingFile) {
		return req, in, callerr.Wrap(callerr.MalformedInput, op, err)
	}

	if file, hdr, err := r.FormFile("frame"); err == nil {
		data, err := readPart(file)
		if err != nil {
			return req, in, err
		}
		if len(data) > 0 {
			in.Frame = &session.Frame{
				Data:       data,
				MediaType:  imageType(hdr.Header.Get("Content-Type")),
				CapturedAt: time.Now().UTC(),
			}
		}
	} else if v := r.FormValue("frame"); v != "" {
		frame, err := decodeFrame(v, r.FormValue("frame_media_type"))
		if err != nil {
			return req, in, err
		}
		in.Frame = frame
	}
	return req, in, nil
}

func readPart(f multipart.File) ([]byte, error) {
	defer f.Close()
	return io.ReadAll(f)
}

// decodeFrame accepts raw base64 or a data URL.
func decodeFrame(raw, mediaType string) (*session.Frame, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "data:") {
		meta, payload, ok := strings.Cut(strings.TrimPrefix(raw, "data:"), ",")
		if !ok || !strings.HasSuffix(meta, ";base64") {
			return nil, callerr.New(callerr.MalformedInput, "httpapi.frame", "frame data URL must be base64")
		}
		if mediaType == "" {
			mediaType = strings.TrimSuffix(meta, ";base64")
		}
		raw = payload
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, callerr.New(callerr.MalformedInput, "httpapi.frame", "frame is not valid base64")
	}
	if len(data) == 0 {
		return nil, nil
	}
	return &session.Frame{
		Data:       data,
		MediaType:  imageType(mediaType),
		CapturedAt: time.Now().UTC(),
	}, nil
}

// normalizeAudioFormat turns a MIME type, extension or bare name into the
// short format name the providers expect ("webm", "wav", "pcm16", ...).
func normalizeAudioFormat(v string) string {
	f := strings.ToLower(strings.TrimSpace(v))
	f = strings.TrimPrefix(f, ".")
	f = strings.TrimPrefix(f, "audio/")
	if i := strings.IndexByte(f, ';'); i >= 0 {
		f = f[:i]
	}
	switch f {
	case "":
		return ""
	case "pcm", "pcm16", "l16", "pcm_s16le":
		return session.FormatPCM16
	case "x-wav", "wave":
		return "wav"
	case "mpeg":
		return "mp3"
	case "application/octet-stream":
		return ""
	}
	return f
}

// audioFormatOf returns the first candidate that names a known format.
func audioFormatOf(candidates ...string) string {
	for _, c := range candidates {
		if f := normalizeAudioFormat(c); f != "" {
			return f
		}
	}
	return ""
}

func (s *Server) maxTurnBody() int64 {
	limit := int64(s.cfg.MaxAudioBytes + s.cfg.MaxFrameBytes)
	if limit <= 0 {
		limit = 14 << 20
	}
	// base64 inflation plus form overhead
	return limit*4/3 + 1<<20
}

func imageType(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if !strings.HasPrefix(v, "image/") {
		return "image/jpeg"
	}
	return v
}
