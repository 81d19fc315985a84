package session

import (
	"time"

	"github.com/ent0n29/videochat/internal/callerr"
)

// Options are the per-call settings fixed at session creation.
type Options struct {
	AgentName string `json:"agent_name"`
	UserName  string `json:"user_name"`
	Language  string `json:"language"`
	VoiceID   string `json:"voice_id,omitempty"`
	Speed     string `json:"speed,omitempty"`
}

// Info is a point-in-time view of a session.
type Info struct {
	SessionID      string    `json:"session_id"`
	State          State     `json:"state"`
	AgentName      string    `json:"agent_name"`
	UserName       string    `json:"user_name"`
	HistoryTurns   int       `json:"history_turns"`
	ActiveTurnID   string    `json:"active_turn_id,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// TurnInput is one turn submission. Audio and Frame are appended to whatever
// the session already buffered.
type TurnInput struct {
	Audio       []byte
	AudioFormat string
	SampleRate  int
	Frame       *Frame

	// Per-turn overrides of the session options.
	Language string
	VoiceID  string
	Speed    string

	// OnEvent, when set, receives progress from the turn goroutine.
	OnEvent func(TurnEvent)
}

type TurnEventType string

const (
	EventState      TurnEventType = "state"
	EventTranscript TurnEventType = "transcript"
	EventTextDelta  TurnEventType = "text_delta"
)

type TurnEvent struct {
	Type       TurnEventType
	TurnID     string
	State      State
	Transcript string
	Delta      string
}

type TurnStatus string

const (
	TurnOK    TurnStatus = "ok"
	TurnError TurnStatus = "error"
)

// TurnResult is the terminal outcome of one turn. A failed speech step
// leaves Status ok with ReplyText set and Audio empty.
type TurnResult struct {
	TurnID           string
	Status           TurnStatus
	Transcript       string
	ReplyText        string
	Audio            []byte
	AudioFormat      string
	AudioContentType string
	// Silent is set when no speech was detected and the chat call was skipped.
	Silent bool

	ErrorKind callerr.Kind
	// ErrorMessage is fit for the person on the call; ErrorDetail carries
	// the upstream cause.
	ErrorMessage string
	ErrorDetail  string
	// SpeechErrorKind is set when synthesis failed and the reply is text only.
	SpeechErrorKind callerr.Kind
}
