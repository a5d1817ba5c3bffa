package realtime

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// originPolicy accepts requests without an Origin header, same-host origins,
// loopback origins and an explicit allow list of hosts.
type originPolicy struct {
	allowed map[string]struct{}
}

func newOriginPolicy(origins []string) originPolicy {
	policy := originPolicy{allowed: make(map[string]struct{}, len(origins))}
	for _, origin := range origins {
		if host := originHost(origin); host != "" {
			policy.allowed[host] = struct{}{}
		}
	}
	return policy
}

func (p originPolicy) allows(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}

	host := originHost(origin)
	if host == "" {
		return false
	}
	if _, ok := p.allowed[host]; ok {
		return true
	}
	return strings.EqualFold(host, stripPort(r.Host)) || isLoopback(host)
}

func originHost(origin string) string {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return ""
	}
	if strings.Contains(origin, "://") {
		parsed, err := url.Parse(origin)
		if err != nil {
			return ""
		}
		return strings.ToLower(parsed.Hostname())
	}
	return strings.ToLower(stripPort(origin))
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
