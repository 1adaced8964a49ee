package routes

import (
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/smartmark/internal/httpserver/deps"
	"github.com/MrSnakeDoc/smartmark/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/smartmark/internal/httpserver/mw"
)

func init() { Register(registerAPI) }

func registerAPI(r chi.Router, d deps.Deps) {
	writes := mw.RateLimit(mw.RateLimitConfig{
		Burst:           30,
		RefillPerMinute: 60,
		MaxEntries:      10000,
		IdleTTL:         15 * time.Minute,
		Key:             mw.BySession(d.Cookie.Name, d.TrustProxy),
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(mw.EnforceHost(d.AllowedHosts, d.Logger))

		api.Group(func(rest chi.Router) {
			rest.Use(restTimeout)
			rest.Use(mw.RequireIdentity(d.Store, d.Cookie.Name, d.Logger))

			rest.Get("/me", handlers.Me(d))
			rest.Get("/bookmarks", handlers.ListBookmarks(d))
			rest.With(writes).Post("/bookmarks", handlers.CreateBookmark(d))
			rest.With(writes).Delete("/bookmarks/{id}", handlers.DeleteBookmark(d))
		})

		// Long-lived, no request timeout. Unauthenticated views are served
		// too and simply stay in the unauthenticated state.
		api.Get("/live", handlers.Live(d))
	})
}
