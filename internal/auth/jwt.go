// Package auth provides the session tokens, OAuth providers, and request
// middleware for the identity service.
//
// AUTHENTICATION FLOW OVERVIEW:
// 1. Member visits /auth/{provider}/login → redirected to the provider
// 2. Provider calls back /auth/{provider}/callback with a code
// 3. Server exchanges the code for a raw auth payload, the identity service
//    reconciles it into an account
// 4. Server issues a JWT access token, stores it in an HttpOnly cookie
// 5. On subsequent API calls, middleware reads the cookie, validates the
//    JWT, and puts the account ID in the request context
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "lokalhub"

// TokenService handles JWT creation and validation. It holds the HMAC
// secret used to sign and verify — the same secret must do both.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a TokenService with the given secret.
// The secret should be at least 32 bytes of random data in production.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret)}, nil
}

// claims embeds jwt.RegisteredClaims; the account ID travels in "sub".
type claims struct {
	jwt.RegisteredClaims
}

// Generate creates and signs a 15-minute access token for the account.
func (s *TokenService) Generate(accountID string) (string, error) {
	return s.GenerateWithDuration(accountID, 15*time.Minute)
}

// GenerateWithDuration creates a token with a custom expiry. Used by tests
// and for longer-lived tokens.
func (s *TokenService) GenerateWithDuration(accountID string, d time.Duration) (string, error) {
	now := time.Now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a JWT string and returns the account ID from
// the "sub" claim.
//
// WithValidMethods pins HS256 — without it a token claiming alg "none" could
// slip past signature verification.
func (s *TokenService) Validate(tokenStr string) (string, error) {
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
			return "", fmt.Errorf("auth: token expired")
		}
		return "", fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("auth: invalid token claims")
	}

	accountID := c.Subject
	if accountID == "" {
		return "", fmt.Errorf("auth: token has no subject")
	}

	return accountID, nil
}
