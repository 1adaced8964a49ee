package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
)

func TestSanitizeNext(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"/bookmarks", "/bookmarks"},
		{"/bookmarks?tab=recent#top", "/bookmarks?tab=recent#top"},
		{"bookmarks", "/"},
		{"//evil.test/path", "/"},
		{"/\\evil.test", "/"},
		{"https://evil.test/", "/"},
		{"javascript:alert(1)", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := SanitizeNext(tt.in); got != tt.want {
				t.Errorf("SanitizeNext(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStateSigner(t *testing.T) {
	signer := newStateSigner([]byte("secret"), time.Minute)

	token, err := signer.sign("/next", "nonce-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	claims, err := signer.verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Next != "/next" || claims.Nonce != "nonce-1" {
		t.Errorf("claims = %+v", claims)
	}

	tests := []struct {
		name   string
		token  string
		signer *stateSigner
	}{
		{"empty", "", signer},
		{"garbage", "not-a-token", signer},
		{"other secret", token, newStateSigner([]byte("other"), time.Minute)},
		{"tampered", token[:len(token)-2] + "xx", signer},
		{"expired", token, &stateSigner{secret: []byte("secret"), ttl: time.Minute, now: func() time.Time {
			return time.Now().Add(2 * time.Minute)
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.signer.verify(tt.token); err == nil {
				t.Error("verify should fail")
			}
		})
	}
}

func TestNewSessionToken(t *testing.T) {
	a, err := NewSessionToken()
	if err != nil {
		t.Fatalf("NewSessionToken: %v", err)
	}
	b, _ := NewSessionToken()
	if a == b || len(a) < 40 {
		t.Errorf("tokens %q and %q are not unique random tokens", a, b)
	}
}

// ─── Exchange ─────────────────────────────────────────────────────────────

type testIssuer struct {
	t      *testing.T
	srv    *httptest.Server
	key    *rsa.PrivateKey
	mu     sync.Mutex
	claims jwt.MapClaims
	calls  int
}

func newTestIssuer(t *testing.T) *testIssuer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	iss := &testIssuer{t: t, key: key}

	iss.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		iss.mu.Lock()
		iss.calls++
		claims := iss.claims
		iss.mu.Unlock()

		if err := r.ParseForm(); err != nil || r.PostForm.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}

		idToken, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
		if err != nil {
			t.Errorf("sign id token: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "access",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     idToken,
		})
	}))
	t.Cleanup(iss.srv.Close)
	return iss
}

func (i *testIssuer) setClaims(c jwt.MapClaims) {
	i.mu.Lock()
	i.claims = c
	i.mu.Unlock()
}

func (i *testIssuer) callCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.calls
}

func (i *testIssuer) provider() *Provider {
	oauthCfg := oauth2.Config{
		ClientID:     "client",
		ClientSecret: "shh",
		RedirectURL:  "https://smartmark.test/auth/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:   i.srv.URL + "/authorize",
			TokenURL:  i.srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: withOpenID([]string{"email"}),
	}
	keys := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&i.key.PublicKey}}
	verifier := oidc.NewVerifier(i.srv.URL, keys, &oidc.Config{ClientID: "client"})
	return newProvider(oauthCfg, verifier, newStateSigner([]byte("state-secret"), time.Minute), logger.NewNop())
}

func (i *testIssuer) baseClaims(nonce string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":   i.srv.URL,
		"sub":   "user-1",
		"aud":   "client",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
		"nonce": nonce,
		"name":  "Ada Lovelace",
		"email": "ada@example.com",
	}
}

func loginParams(t *testing.T, p *Provider, next string) (state, nonce string) {
	t.Helper()
	raw, err := p.AuthCodeURL(next)
	if err != nil {
		t.Fatalf("AuthCodeURL: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	q := u.Query()
	if !strings.Contains(q.Get("scope"), "openid") {
		t.Errorf("scope = %q, want openid", q.Get("scope"))
	}
	return q.Get("state"), q.Get("nonce")
}

func TestProvider_Exchange(t *testing.T) {
	iss := newTestIssuer(t)
	p := iss.provider()

	state, nonce := loginParams(t, p, "/after?x=1")
	iss.setClaims(iss.baseClaims(nonce))

	identity, next, err := p.Exchange(context.Background(), "good-code", state)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	want := domain.Identity{ID: "user-1", DisplayName: "Ada Lovelace", Email: "ada@example.com"}
	if *identity != want {
		t.Errorf("identity = %+v, want %+v", *identity, want)
	}
	if next != "/after?x=1" {
		t.Errorf("next = %q", next)
	}
}

func TestProvider_ExchangeUnsafeNext(t *testing.T) {
	iss := newTestIssuer(t)
	p := iss.provider()

	state, nonce := loginParams(t, p, "https://evil.test/")
	iss.setClaims(iss.baseClaims(nonce))

	_, next, err := p.Exchange(context.Background(), "good-code", state)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if next != "/" {
		t.Errorf("next = %q, want /", next)
	}
}

func TestProvider_ExchangeFailures(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		badState   bool
		claims     func(iss *testIssuer, nonce string) jwt.MapClaims
		wantCalled bool
	}{
		{
			name:     "invalid state",
			code:     "good-code",
			badState: true,
			claims:   func(iss *testIssuer, nonce string) jwt.MapClaims { return iss.baseClaims(nonce) },
		},
		{
			name:       "rejected code",
			code:       "bad-code",
			claims:     func(iss *testIssuer, nonce string) jwt.MapClaims { return iss.baseClaims(nonce) },
			wantCalled: true,
		},
		{
			name:       "nonce mismatch",
			code:       "good-code",
			claims:     func(iss *testIssuer, _ string) jwt.MapClaims { return iss.baseClaims("replayed") },
			wantCalled: true,
		},
		{
			name: "wrong audience",
			code: "good-code",
			claims: func(iss *testIssuer, nonce string) jwt.MapClaims {
				c := iss.baseClaims(nonce)
				c["aud"] = "someone-else"
				return c
			},
			wantCalled: true,
		},
		{
			name: "expired id token",
			code: "good-code",
			claims: func(iss *testIssuer, nonce string) jwt.MapClaims {
				c := iss.baseClaims(nonce)
				c["exp"] = time.Now().Add(-time.Hour).Unix()
				return c
			},
			wantCalled: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iss := newTestIssuer(t)
			p := iss.provider()

			state, nonce := loginParams(t, p, "/")
			iss.setClaims(tt.claims(iss, nonce))
			if tt.badState {
				state = "forged"
			}

			identity, _, err := p.Exchange(context.Background(), tt.code, state)
			var exErr *domain.AuthExchangeError
			if !errors.As(err, &exErr) {
				t.Fatalf("err = %v, want *AuthExchangeError", err)
			}
			if identity != nil {
				t.Errorf("identity = %+v, want nil", identity)
			}
			if called := iss.callCount() > 0; called != tt.wantCalled {
				t.Errorf("token endpoint called = %v, want %v", called, tt.wantCalled)
			}
		})
	}
}
