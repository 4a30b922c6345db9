package relay

import (
	"net/http"
	"net/url"
	"strings"
)

// OriginChecker decides whether a WebSocket upgrade's Origin header is
// acceptable. It is an explicit, testable value rather than a
// package-level variable holding the allow-list.
type OriginChecker struct {
	allowed []string
}

// NewOriginChecker builds a checker from a list of allowed hosts
// (host or host:port, case-insensitive). An empty list allows only
// requests without an Origin header (native/non-browser clients).
func NewOriginChecker(allowed []string) *OriginChecker {
	normalized := make([]string, 0, len(allowed))
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		if a != "" {
			normalized = append(normalized, strings.ToLower(a))
		}
	}
	return &OriginChecker{allowed: normalized}
}

// CheckOrigin satisfies gorilla/websocket.Upgrader.CheckOrigin.
func (c *OriginChecker) CheckOrigin(r *http.Request) bool {
	return c.Allowed(r.Header.Get("Origin"))
}

// Allowed reports whether origin is acceptable. An empty origin is
// allowed, since native app clients (the mobile peer this hub serves)
// typically do not send one.
func (c *OriginChecker) Allowed(origin string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Host)
	hostWithoutPort := withoutPort(host)

	for _, a := range c.allowed {
		if host == a || hostWithoutPort == withoutPort(a) {
			return true
		}
	}
	return false
}

func withoutPort(hostport string) string {
	if i := strings.LastIndex(hostport, ":"); i != -1 {
		return hostport[:i]
	}
	return hostport
}
