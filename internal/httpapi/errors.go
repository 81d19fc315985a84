package httpapi

import (
	"errors"
	"net/http"

	"github.com/ent0n29/videochat/internal/callerr"
)

func statusForKind(kind callerr.Kind) int {
	switch kind {
	case callerr.MalformedInput:
		return http.StatusBadRequest
	case callerr.SessionClosed:
		return http.StatusGone
	case callerr.TurnInProgress:
		return http.StatusConflict
	case callerr.SessionLimitExceeded:
		return http.StatusTooManyRequests
	case callerr.AuthMissing:
		return http.StatusServiceUnavailable
	case callerr.UpstreamTimeout:
		return http.StatusGatewayTimeout
	case callerr.UpstreamRejected, callerr.GatewayUnavailable, callerr.GatewayError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondCallError writes a classified failure. Detail is only echoed for
// input errors; everything else gets the user-facing message.
func respondCallError(w http.ResponseWriter, err error) {
	kind := callerr.KindOf(err)
	msg := callerr.UserMessage(kind)
	var ce *callerr.Error
	if kind == callerr.MalformedInput && errors.As(err, &ce) && ce.Detail != "" {
		msg = ce.Detail
	}
	respondError(w, statusForKind(kind), string(kind), msg)
}
