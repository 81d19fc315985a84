// Package callerr classifies failures of a call turn so every layer can report
// the same kind to the end user.
package callerr

import (
	"context"
	"errors"
	"fmt"
)

// Kind categorizes call errors.
type Kind string

const (
	AuthMissing          Kind = "auth_missing"
	UpstreamTimeout      Kind = "upstream_timeout"
	UpstreamRejected     Kind = "upstream_rejected"
	GatewayUnavailable   Kind = "gateway_unavailable"
	GatewayError         Kind = "gateway_error"
	TurnInProgress       Kind = "turn_in_progress"
	SessionLimitExceeded Kind = "session_limit_exceeded"
	SessionClosed        Kind = "session_closed"
	MalformedInput       Kind = "malformed_input"
	Internal             Kind = "internal"
)

// Error carries a classified failure. Op names the failing step
// ("stt", "chat", "tts", "session.get_or_create", ...), Status the upstream HTTP
// status when there was one.
type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status > 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Detail == "" && t.Err == nil
}

var (
	ErrAuthMissing          = &Error{Kind: AuthMissing}
	ErrUpstreamTimeout      = &Error{Kind: UpstreamTimeout}
	ErrUpstreamRejected     = &Error{Kind: UpstreamRejected}
	ErrGatewayUnavailable   = &Error{Kind: GatewayUnavailable}
	ErrGatewayError         = &Error{Kind: GatewayError}
	ErrTurnInProgress       = &Error{Kind: TurnInProgress}
	ErrSessionLimitExceeded = &Error{Kind: SessionLimitExceeded}
	ErrSessionClosed        = &Error{Kind: SessionClosed}
	ErrMalformedInput       = &Error{Kind: MalformedInput}
)

func New(kind Kind, op, detail string) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithStatus builds an error for a non-success upstream HTTP response.
func WithStatus(kind Kind, op string, status int, detail string) *Error {
	return &Error{Kind: kind, Op: op, Status: status, Detail: detail}
}

// KindOf returns the classified kind of err. Context deadlines count as
// upstream timeouts; anything unclassified is Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return UpstreamTimeout
	}
	return Internal
}

// IsRetryable reports whether the failure is transient enough to retry locally.
// Only upstream timeouts qualify: retrying auth or gateway failures never
// changes the outcome.
func IsRetryable(err error) bool {
	return KindOf(err) == UpstreamTimeout
}

// UserMessage renders a kind as short text for the person on the call.
func UserMessage(kind Kind) string {
	switch kind {
	case AuthMissing:
		return "No credential configured for the speech service."
	case UpstreamTimeout:
		return "The speech service timed out. Please try again."
	case UpstreamRejected:
		return "The speech service could not process that audio."
	case GatewayUnavailable:
		return "The assistant is unreachable right now."
	case GatewayError:
		return "The assistant returned an error. Please try again."
	case TurnInProgress:
		return "Still answering your last message. Wait for the reply before speaking again."
	case SessionLimitExceeded:
		return "Too many calls are active. Try again later."
	case SessionClosed:
		return "This call has ended. Start a new call."
	case MalformedInput:
		return "The request was not understood."
	case "":
		return ""
	default:
		return "Something went wrong. Please try again."
	}
}
