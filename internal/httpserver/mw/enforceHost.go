package mw

import (
	"net"
	"net/http"
	"strings"

	"github.com/MrSnakeDoc/smartmark/internal/logger"
)

// EnforceHost allows requests only if the Host header matches one of the
// allowed hosts ("marks.example.com" or "*.example.com"). An empty list is a
// passthrough.
func EnforceHost(allowedHosts []string, log logger.Logger) func(http.Handler) http.Handler {
	if len(allowedHosts) == 0 {
		log.Debug("EnforceHost: empty allowedHosts, passthrough mode")
		return func(next http.Handler) http.Handler { return next }
	}

	log.Debugf("EnforceHost: initialized with hosts=%v", allowedHosts)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !HostAllowed(r.Host, allowedHosts) {
				log.Debug("EnforceHost: rejected", logger.String("host", r.Host))
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HostAllowed reports whether host (port ignored, case-insensitive) matches
// any pattern. The live websocket reuses it for Origin checks.
func HostAllowed(host string, patterns []string) bool {
	host = strings.ToLower(stripPort(host))
	if host == "" {
		return false
	}
	for _, p := range patterns {
		if matchHost(host, strings.ToLower(stripPort(p))) {
			return true
		}
	}
	return false
}

func matchHost(host, pattern string) bool {
	if host == pattern {
		return true
	}
	// *.example.com matches sub.example.com but not example.com
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(host, pattern[1:])
	}
	return false
}

func stripPort(hostport string) string {
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return h
	}
	return hostport
}
