package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/ent0n29/videochat/internal/callerr"
	"github.com/ent0n29/videochat/internal/reliability"
)

// classifyTransportError maps a failed HTTP round trip. Deadlines and network
// failures are transient; caller cancellation is passed through untouched.
func classifyTransportError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return callerr.Wrap(callerr.UpstreamTimeout, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return callerr.Wrap(callerr.UpstreamTimeout, op, err)
	}
	return callerr.Wrap(callerr.UpstreamTimeout, op, fmt.Errorf("send request: %w", err))
}

// classifyStatus maps a non-2xx upstream response.
func classifyStatus(op string, res *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	detail := strings.TrimSpace(string(body))
	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return callerr.WithStatus(callerr.UpstreamRejected, op, res.StatusCode, "credential rejected: "+detail)
	case reliability.IsRetryableHTTPStatus(res.StatusCode):
		return callerr.WithStatus(callerr.UpstreamTimeout, op, res.StatusCode, detail)
	default:
		return callerr.WithStatus(callerr.UpstreamRejected, op, res.StatusCode, detail)
	}
}
