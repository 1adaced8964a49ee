package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/MrSnakeDoc/smartmark/internal/auth"
	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/httpserver/deps"
	"github.com/MrSnakeDoc/smartmark/internal/httpserver/mw"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
	"github.com/MrSnakeDoc/smartmark/internal/session"
)

const (
	authErrorPath = "/auth-error"
	callbackPath  = "/auth/callback"
	stateTTL      = 10 * time.Minute
)

// Login redirects to the identity provider. The state parameter is also
// stored in a short-lived cookie so the callback only completes in the
// browser that started the login.
func Login(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target, err := d.Auth.AuthCodeURL(r.URL.Query().Get("next"))
		if err != nil {
			d.Logger.Error("building login url failed", logger.Error(err))
			http.Redirect(w, r, authErrorPath, http.StatusFound)
			return
		}

		state := ""
		if u, err := url.Parse(target); err == nil {
			state = u.Query().Get("state")
		}
		if state == "" {
			d.Logger.Error("login url carries no state")
			http.Redirect(w, r, authErrorPath, http.StatusFound)
			return
		}

		http.SetCookie(w, stateCookie(d, state, int(stateTTL/time.Second)))
		http.Redirect(w, r, target, http.StatusFound)
	}
}

// Callback completes the OAuth round trip, stores the session and sends the
// user to the sanitized next path.
func Callback(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		bound := ""
		if c, err := r.Cookie(stateCookieName(d)); err == nil {
			bound = c.Value
			http.SetCookie(w, stateCookie(d, "", -1))
		}

		code := q.Get("code")
		if code == "" {
			d.Logger.Debug("callback without code, redirecting home",
				logger.String("provider_error", q.Get("error")))
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}

		state := q.Get("state")
		if bound == "" || subtle.ConstantTimeCompare([]byte(bound), []byte(state)) != 1 {
			d.Logger.Warn("auth callback state does not match this browser",
				logger.Bool("state_cookie", bound != ""))
			http.Redirect(w, r, authErrorPath, http.StatusFound)
			return
		}

		identity, next, err := d.Auth.Exchange(r.Context(), code, state)
		if err != nil {
			var exErr *domain.AuthExchangeError
			if errors.As(err, &exErr) {
				d.Logger.Warn("auth exchange failed", logger.String("reason", exErr.Reason), logger.Error(exErr.Err))
			} else {
				d.Logger.Warn("auth exchange failed", logger.Error(err))
			}
			http.Redirect(w, r, authErrorPath, http.StatusFound)
			return
		}

		token, err := auth.NewSessionToken()
		if err != nil {
			d.Logger.Error("session token generation failed", logger.Error(err))
			http.Redirect(w, r, authErrorPath, http.StatusFound)
			return
		}
		if err := d.Store.SaveSession(r.Context(), token, identity, d.Cookie.TTL); err != nil {
			d.Logger.Error("session save failed", logger.Error(err))
			http.Redirect(w, r, authErrorPath, http.StatusFound)
			return
		}

		http.SetCookie(w, sessionCookie(d, token, d.Now().Add(d.Cookie.TTL), int(d.Cookie.TTL/time.Second)))
		http.Redirect(w, r, auth.SanitizeNext(next), http.StatusFound)
	}
}

// AuthError is the landing page for failed logins.
func AuthError(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusUnauthorized)
		if _, err := w.Write([]byte("❌ Sign-in failed, please try again: /auth/login\n")); err != nil {
			d.Logger.Debug("failed to write response", logger.Error(err))
		}
	}
}

// Logout signs the session out everywhere it is open and clears the cookie.
func Logout(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token := mw.SessionToken(r, d.Cookie.Name); token != "" {
			sess := session.New(token, d.Store, d.Logger)
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			if err := sess.SignOut(ctx); err != nil {
				d.Logger.Warn("sign out incomplete", logger.Error(err))
			}
			cancel()
		}

		http.SetCookie(w, sessionCookie(d, "", time.Unix(0, 0), -1))
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

func stateCookieName(d deps.Deps) string { return d.Cookie.Name + "_state" }

func stateCookie(d deps.Deps, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     stateCookieName(d),
		Value:    value,
		Path:     callbackPath,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   d.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func sessionCookie(d deps.Deps, value string, expires time.Time, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     d.Cookie.Name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   d.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
