package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk   MessageType = "client_audio_chunk"
	TypeClientFrame        MessageType = "client_frame"
	TypeClientControl      MessageType = "client_control"
	TypeSessionState       MessageType = "session_state"
	TypeSTTCommitted       MessageType = "stt_committed"
	TypeAssistantTextDelta MessageType = "assistant_text_delta"
	TypeTurnResult         MessageType = "turn_result"
	TypeErrorEvent         MessageType = "error_event"
)

// Control actions.
const (
	ActionFinalize  = "finalize"
	ActionTerminate = "terminate"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientAudioChunk carries either encoded audio (AudioBase64 + Format) or raw
// PCM16 mono samples (PCM16Base64 + SampleRate).
type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	Seq         int         `json:"seq"`
	AudioBase64 string      `json:"audio_base64,omitempty"`
	Format      string      `json:"format,omitempty"`
	PCM16Base64 string      `json:"pcm16_base64,omitempty"`
	SampleRate  int         `json:"sample_rate,omitempty"`
	TSMs        int64       `json:"ts_ms"`
}

type ClientFrame struct {
	Type        MessageType `json:"type"`
	ImageBase64 string      `json:"image_base64"`
	MediaType   string      `json:"media_type"`
	TSMs        int64       `json:"ts_ms"`
}

type ClientControl struct {
	Type     MessageType `json:"type"`
	Action   string      `json:"action"`
	Language string      `json:"language,omitempty"`
	Voice    string      `json:"voice,omitempty"`
	Speed    string      `json:"speed,omitempty"`
}

type SessionState struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id,omitempty"`
	State     string      `json:"state"`
}

type STTCommitted struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	Text      string      `json:"text"`
}

type AssistantTextDelta struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	TextDelta string      `json:"text_delta"`
}

// TurnResult mirrors the /api/turn response body.
type TurnResult struct {
	Type         MessageType `json:"type,omitempty"`
	SessionID    string      `json:"session_id"`
	TurnID       string      `json:"turn_id,omitempty"`
	Status       string      `json:"status"`
	Transcript   string      `json:"transcript"`
	ReplyText    string      `json:"reply_text,omitempty"`
	AudioURL     string      `json:"audio_url,omitempty"`
	AudioType    string      `json:"audio_content_type,omitempty"`
	ErrorKind    string      `json:"error_kind,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	SpeechError  string      `json:"speech_error_kind,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Kind      string      `json:"kind"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		switch {
		case msg.AudioBase64 != "" && msg.PCM16Base64 != "":
			return nil, errors.New("invalid client_audio_chunk: both audio_base64 and pcm16_base64 set")
		case msg.PCM16Base64 != "" && msg.SampleRate <= 0:
			return nil, errors.New("invalid client_audio_chunk: pcm16 requires sample_rate")
		case msg.AudioBase64 == "" && msg.PCM16Base64 == "":
			return nil, errors.New("invalid client_audio_chunk: no audio")
		}
		return msg, nil
	case TypeClientFrame:
		var msg ClientFrame
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ImageBase64 == "" {
			return nil, errors.New("invalid client_frame")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Action != ActionFinalize && msg.Action != ActionTerminate {
			return nil, fmt.Errorf("invalid client_control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
