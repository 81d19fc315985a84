package app

import (
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/ent0n29/videochat/internal/httpapi"
)

// gatewayCheck reports whether the OpenClaw gateway answers on its port.
// A silent gateway only warns: it may come up after the service does.
func gatewayCheck(baseURL string) httpapi.Check {
	check := httpapi.Check{ID: "chat_gateway_reachable", Label: "Chat gateway reachable"}
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Host == "" {
		check.Status = "error"
		check.Detail = "invalid OPENCLAW_BASE_URL"
		return check
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	addr := net.JoinHostPort(u.Hostname(), port)
	if isTCPListening(addr, 300*time.Millisecond) {
		check.Status = "ok"
		check.Detail = addr
		return check
	}
	check.Status = "warn"
	check.Detail = "nothing listening on " + addr
	check.Fix = "Start the OpenClaw gateway (openclaw gateway) or set OPENCLAW_BASE_URL."
	return check
}

func isTCPListening(addr string, timeout time.Duration) bool {
	if strings.TrimSpace(addr) == "" {
		return false
	}
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}
