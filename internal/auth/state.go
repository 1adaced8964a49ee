package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const stateIssuer = "smartmark"

type stateClaims struct {
	jwt.RegisteredClaims
	Next  string `json:"next"`
	Nonce string `json:"nonce"`
}

// stateSigner issues and checks the OAuth state parameter. The state is an
// HS256 token carrying the post-login redirect and the OIDC nonce, so the
// callback needs no server-side storage.
type stateSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func newStateSigner(secret []byte, ttl time.Duration) *stateSigner {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &stateSigner{secret: secret, ttl: ttl, now: time.Now}
}

func (s *stateSigner) sign(next, nonce string) (string, error) {
	now := s.now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, stateClaims{
		Next:  next,
		Nonce: nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    stateIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	})

	signed, err := t.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}
	return signed, nil
}

func (s *stateSigner) verify(raw string) (*stateClaims, error) {
	if raw == "" {
		return nil, errors.New("missing state")
	}

	claims := &stateClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid state")
	}
	return claims, nil
}

// SanitizeNext returns next if it is a same-origin relative path, "/"
// otherwise.
func SanitizeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") {
		return "/"
	}
	if strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}

	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return next
}

// NewSessionToken returns an opaque random session token.
func NewSessionToken() (string, error) {
	return randomString(32)
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
