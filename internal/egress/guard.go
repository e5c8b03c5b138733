// Package egress confines outbound model traffic to the configured endpoint.
package egress

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"

	"glossa/internal/llm"
)

// Policy names the endpoint hosts a Guard lets through.
type Policy struct {
	Hosts []string
	// Insecure permits plain HTTP and IP-literal hosts, for local proxies.
	// The host list still applies.
	Insecure bool
}

// Guard is an http.RoundTripper that refuses requests outside its Policy.
// Refusals wrap llm.ErrEgressBlocked and never reach the network.
type Guard struct {
	base     http.RoundTripper
	hosts    map[string]bool
	insecure bool
	logger   *slog.Logger
	blocked  atomic.Int64
}

func NewGuard(base http.RoundTripper, policy Policy, logger *slog.Logger) *Guard {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	hosts := make(map[string]bool, len(policy.Hosts))
	for _, host := range policy.Hosts {
		hosts[strings.ToLower(strings.TrimSpace(host))] = true
	}
	return &Guard{base: base, hosts: hosts, insecure: policy.Insecure, logger: logger}
}

// Blocked returns how many requests the guard refused.
func (g *Guard) Blocked() int64 {
	return g.blocked.Load()
}

func (g *Guard) RoundTrip(req *http.Request) (*http.Response, error) {
	if reason := g.check(req); reason != "" {
		g.blocked.Add(1)
		host := ""
		if req.URL != nil {
			host = req.URL.Host
		}
		g.logger.Warn("egress.blocked", "host", host, "reason", reason)
		return nil, fmt.Errorf("%w: %s", llm.ErrEgressBlocked, reason)
	}
	return g.base.RoundTrip(req)
}

func (g *Guard) check(req *http.Request) string {
	if req.URL == nil {
		return "request has no url"
	}
	switch req.URL.Scheme {
	case "https":
	case "http":
		if !g.insecure {
			return "plain http requires GLOSSA_ALLOW_INSECURE_ENDPOINT"
		}
	default:
		return fmt.Sprintf("scheme %q", req.URL.Scheme)
	}
	host := strings.ToLower(req.URL.Hostname())
	if host == "" {
		return "empty host"
	}
	if net.ParseIP(host) != nil && !g.insecure {
		return "ip literal host " + host
	}
	if !g.hosts[host] {
		return "host " + host + " is not the configured endpoint"
	}
	return ""
}
