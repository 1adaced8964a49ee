package mw

import (
	"net/http"

	"github.com/MrSnakeDoc/smartmark/internal/logger"
)

// AllowOnlyCIDRS guards operator endpoints (health, infra, admin import).
// An empty or unparsable list disables the filter.
func AllowOnlyCIDRS(allowed []string, trustProxy bool, log logger.Logger) func(http.Handler) http.Handler {
	set := parsePrefixes(allowed)
	if len(set) == 0 {
		log.Debug("AllowOnlyCIDRS: no rules, passthrough mode")
		return func(next http.Handler) http.Handler { return next }
	}

	log.Debug("AllowOnlyCIDRS: initialized",
		logger.Int("rules", len(set)),
		logger.Bool("trust_proxy", trustProxy))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr, ok := clientAddr(r, trustProxy)
			if !ok || !set.contains(addr) {
				log.Debug("AllowOnlyCIDRS: rejected",
					logger.String("client_ip", ClientIP(r, trustProxy)),
					logger.String("path", r.URL.Path))
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
