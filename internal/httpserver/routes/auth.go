package routes

import (
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/smartmark/internal/httpserver/deps"
	"github.com/MrSnakeDoc/smartmark/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/smartmark/internal/httpserver/mw"
)

func init() { Register(registerAuth, restTimeout) }

func registerAuth(r chi.Router, d deps.Deps) {
	limited := r.With(
		mw.EnforceHost(d.AllowedHosts, d.Logger),
		mw.RateLimit(mw.RateLimitConfig{
			Burst:           10,
			RefillPerMinute: 20,
			MaxEntries:      10000,
			IdleTTL:         15 * time.Minute,
			Key:             mw.ByClientIP(d.TrustProxy),
		}),
	)

	limited.Get("/auth/login", handlers.Login(d))
	limited.Get("/auth/callback", handlers.Callback(d))
	limited.Post("/auth/logout", handlers.Logout(d))
	r.Get("/auth-error", handlers.AuthError(d))
}
