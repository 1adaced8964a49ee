// Package auth runs the OAuth2 authorization code flow against an OIDC
// provider and turns the verified ID token into a domain identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
)

// Config describes the OIDC client.
type Config struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	StateSecret []byte
	StateTTL    time.Duration
}

type idTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

// Provider is the identity provider used by the auth routes.
type Provider struct {
	oauth    oauth2.Config
	verifier idTokenVerifier
	states   *stateSigner
	logger   logger.Logger
}

// NewProvider discovers the issuer's endpoints and keys.
func NewProvider(ctx context.Context, cfg Config, log logger.Logger) (*Provider, error) {
	if cfg.IssuerURL == "" || cfg.ClientID == "" {
		return nil, errors.New("oidc issuer and client id are required")
	}
	if len(cfg.StateSecret) == 0 {
		return nil, errors.New("state secret is required")
	}

	op, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery %s: %w", cfg.IssuerURL, err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"profile", "email"}
	}

	oauthCfg := oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     op.Endpoint(),
		Scopes:       withOpenID(scopes),
	}
	verifier := op.Verifier(&oidc.Config{ClientID: cfg.ClientID})

	log.Info("oidc provider ready",
		logger.String("issuer", cfg.IssuerURL),
		logger.String("client_id", cfg.ClientID))

	return newProvider(oauthCfg, verifier, newStateSigner(cfg.StateSecret, cfg.StateTTL), log), nil
}

func newProvider(oauthCfg oauth2.Config, verifier idTokenVerifier, states *stateSigner, log logger.Logger) *Provider {
	return &Provider{oauth: oauthCfg, verifier: verifier, states: states, logger: log}
}

func withOpenID(scopes []string) []string {
	for _, s := range scopes {
		if s == oidc.ScopeOpenID {
			return scopes
		}
	}
	return append([]string{oidc.ScopeOpenID}, scopes...)
}

// AuthCodeURL returns the provider login URL. After the callback the user
// is sent to next when it is a same-origin path.
func (p *Provider) AuthCodeURL(next string) (string, error) {
	nonce, err := randomString(16)
	if err != nil {
		return "", err
	}
	state, err := p.states.sign(SanitizeNext(next), nonce)
	if err != nil {
		return "", err
	}
	return p.oauth.AuthCodeURL(state, oidc.Nonce(nonce)), nil
}

type profileClaims struct {
	Subject           string `json:"sub"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
	Picture           string `json:"picture"`
}

// Exchange trades an authorization code for an identity. Every failure is
// an *domain.AuthExchangeError.
func (p *Provider) Exchange(ctx context.Context, code, state string) (*domain.Identity, string, error) {
	claims, err := p.states.verify(state)
	if err != nil {
		return nil, "", &domain.AuthExchangeError{Reason: "invalid state", Err: err}
	}

	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, "", &domain.AuthExchangeError{Reason: "code exchange", Err: err}
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, "", &domain.AuthExchangeError{Reason: "token response has no id_token"}
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, "", &domain.AuthExchangeError{Reason: "id token verification", Err: err}
	}
	if idToken.Nonce != claims.Nonce {
		return nil, "", &domain.AuthExchangeError{Reason: "nonce mismatch"}
	}

	var profile profileClaims
	if err := idToken.Claims(&profile); err != nil {
		return nil, "", &domain.AuthExchangeError{Reason: "id token claims", Err: err}
	}

	identity := &domain.Identity{
		ID:          idToken.Subject,
		DisplayName: firstNonEmpty(profile.Name, profile.PreferredUsername, profile.Email, idToken.Subject),
		Email:       profile.Email,
		AvatarURL:   profile.Picture,
	}

	p.logger.Info("user authenticated", logger.String("identity_id", identity.ID))
	return identity, SanitizeNext(claims.Next), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
