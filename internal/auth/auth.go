// Package auth issues and verifies the signed identity tokens that stand in
// for a login system. A token carries a generated user id and a display
// name and travels as a cookie or a bearer header.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/DoyleJ11/mafia-backend/internal/failure"
)

// CookieName is the cookie the identity token is stored in.
const CookieName = "mafia_session"

const (
	issuer        = "mafia-backend"
	maxNameLength = 32
)

var (
	ErrNoIdentity   = failure.New(failure.CodeUnauthenticated, "sign in required")
	ErrInvalidToken = failure.New(failure.CodeUnauthenticated, "identity token is invalid")
	ErrExpiredToken = failure.New(failure.CodeUnauthenticated, "identity token has expired")
	ErrInvalidName  = failure.New(failure.CodeValidation, "display name must be 1-32 characters")
)

type Identity struct {
	ID   string
	Name string
}

type claims struct {
	jwt.RegisteredClaims
	Name string `json:"name"`
}

// Provider signs tokens with HS256.
type Provider struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewProvider(secret string, ttl time.Duration, now func() time.Time) (*Provider, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token secret is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	if now == nil {
		now = time.Now
	}
	return &Provider{secret: []byte(secret), ttl: ttl, now: now}, nil
}

// NewIdentity validates name and assigns a fresh user id.
func NewIdentity(name string) (Identity, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return Identity{}, ErrInvalidName
	}
	return Identity{ID: uuid.NewString(), Name: name}, nil
}

// Issue signs a token for id and reports when it expires.
func (p *Provider) Issue(id Identity) (string, time.Time, error) {
	now := p.now().UTC()
	exp := now.Add(p.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Name: id.Name,
	})
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign identity token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies raw and returns the identity it carries.
func (p *Provider) Parse(raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, ErrNoIdentity
	}

	var parsed claims
	_, err := jwt.ParseWithClaims(raw, &parsed, func(*jwt.Token) (any, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Identity{}, failure.Wrap(failure.CodeUnauthenticated, ErrInvalidToken.Message, err)
	}

	if parsed.ExpiresAt == nil || !parsed.ExpiresAt.Time.After(p.now()) {
		return Identity{}, ErrExpiredToken
	}
	if parsed.Subject == "" || parsed.Issuer != issuer {
		return Identity{}, ErrInvalidToken
	}
	return Identity{ID: parsed.Subject, Name: parsed.Name}, nil
}

// Identify resolves the caller from the Authorization header, falling back
// to the session cookie.
func (p *Provider) Identify(r *http.Request) (Identity, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		token, ok := strings.CutPrefix(h, "Bearer ")
		if !ok {
			return Identity{}, ErrInvalidToken
		}
		return p.Parse(token)
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return p.Parse(c.Value)
	}
	return Identity{}, ErrNoIdentity
}

// SetCookie stores token on the response.
func (p *Provider) SetCookie(w http.ResponseWriter, token string, expires time.Time, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
