package mw

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
)

// SessionLookup resolves a session token to its identity.
type SessionLookup interface {
	GetSession(ctx context.Context, token string) (*domain.Identity, error)
}

type identityKey struct{}

// SessionToken reads the session token from the named cookie.
func SessionToken(r *http.Request, cookieName string) string {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// RequireIdentity rejects requests without a live session with 401 and
// stores the identity in the request context otherwise.
func RequireIdentity(sessions SessionLookup, cookieName string, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := SessionToken(r, cookieName)
			if token == "" {
				unauthorized(w)
				return
			}

			identity, err := sessions.GetSession(r.Context(), token)
			if err != nil {
				log.Warn("session lookup failed", logger.Error(err))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadGateway)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "session store unavailable"})
				return
			}
			if identity == nil {
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, identity)))
		})
	}
}

// IdentityFrom returns the identity stored by RequireIdentity.
func IdentityFrom(ctx context.Context) *domain.Identity {
	identity, _ := ctx.Value(identityKey{}).(*domain.Identity)
	return identity
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": domain.ErrNotAuthenticated.Error()})
}
