// Package origins matches browser Origin headers against a configured allow
// list. localhost, 127.0.0.1 and ::1 are interchangeable when scheme and port agree.
package origins

import (
	"net/url"
	"strings"
)

// Matcher returns a predicate for rs/cors and websocket origin checks. An empty
// list or a "*" entry allows everything.
func Matcher(allowedOrigins []string) func(origin string) bool {
	allowed := make([]string, 0, len(allowedOrigins))
	wildcard := len(allowedOrigins) == 0
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			wildcard = true
		}
		if origin != "" {
			allowed = append(allowed, origin)
		}
	}
	return func(origin string) bool {
		if wildcard {
			return true
		}
		for _, candidate := range allowed {
			if origin == candidate || equivalentLoopback(origin, candidate) {
				return true
			}
		}
		return false
	}
}

func equivalentLoopback(originA, originB string) bool {
	a, err := url.Parse(originA)
	if err != nil {
		return false
	}
	b, err := url.Parse(originB)
	if err != nil {
		return false
	}
	if !isLoopbackHost(a.Hostname()) || !isLoopbackHost(b.Hostname()) {
		return false
	}
	return a.Port() == b.Port() && strings.EqualFold(a.Scheme, b.Scheme)
}

func isLoopbackHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
