// Package auth resolves who is making a request.
//
// SIGN-IN FLOW:
//  1. The user signs in with GitHub (/auth/github/login → callback) or with
//     email and password (/auth/login).
//  2. The server issues a signed JWT carrying the user id and display name
//     and stores it in the "token" HttpOnly cookie.
//  3. On later requests the middleware validates the token and puts an
//     Identity into the request context. Non-browser clients may send the
//     same token as "Authorization: Bearer <jwt>".
//
// The token is self-contained: validating it needs only the secret, never
// a database lookup.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer = "codeshelf"

	// DefaultTokenTTL is how long a session lasts without signing in again.
	DefaultTokenTTL = 24 * time.Hour
)

// Identity is the authenticated caller. Name is what gets written into
// Snippet.Author when the caller creates a snippet.
type Identity struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// IsZero reports whether no one is signed in.
func (i Identity) IsZero() bool {
	return i.UserID == ""
}

// TokenService handles JWT creation and validation.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService. The secret must be at least 16
// characters; ttl <= 0 means DefaultTokenTTL.
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}, nil
}

// TTL is the lifetime of tokens issued by Generate. The session cookie uses
// the same value as its Max-Age.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// claims is the JWT payload: the registered claims ("sub" holds the user id)
// plus the display name.
type claims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

// Generate signs a token for id with the service's TTL.
func (s *TokenService) Generate(id Identity) (string, error) {
	return s.GenerateWithDuration(id, s.ttl)
}

// GenerateWithDuration signs a token with a custom lifetime. Tests use it to
// mint already-expired tokens.
func (s *TokenService) GenerateWithDuration(id Identity, d time.Duration) (string, error) {
	if id.IsZero() {
		return "", errors.New("auth: cannot issue a token without a user id")
	}
	now := time.Now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
		Name: id.Name,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a JWT string and returns the Identity in it.
//
// The jwt library checks the signature, expiry and issuer. The algorithm is
// pinned to HS256 so a token claiming "none" (or an asymmetric algorithm
// keyed with our secret) is rejected.
func (s *TokenService) Validate(tokenStr string) (Identity, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, fmt.Errorf("auth: token expired")
		}
		return Identity{}, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return Identity{}, fmt.Errorf("auth: invalid token claims")
	}
	if c.Subject == "" {
		return Identity{}, fmt.Errorf("auth: token has no subject")
	}

	return Identity{UserID: c.Subject, Name: c.Name}, nil
}
