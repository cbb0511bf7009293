// Package token issues and validates signed session tokens.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/zainulabideen041/storink/internal/apperr"
	"github.com/zainulabideen041/storink/internal/models"
)

// TTL is the fixed validity of every session token.
const TTL = 60 * time.Minute

// Claims is the JWT payload of a session token.
type Claims struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Email string      `json:"email"`
	Role  models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Service signs and verifies HS256 session tokens. It keeps no state.
type Service struct {
	signingKey []byte
	issuer     string
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the clock used for issued-at and expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a token service. signingKey must not be empty.
func NewService(signingKey, issuer string, opts ...Option) *Service {
	s := &Service{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue signs a token for c that expires after TTL.
func (s *Service) Issue(c models.Claims) (string, error) {
	now := s.now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ID:    c.ID,
		Name:  c.Name,
		Email: c.Email,
		Role:  c.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TTL)),
			ID:        uuid.NewString(),
		},
	})
	signed, err := t.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses tokenString and returns its identity claims.
// Every failure is reported as apperr.ErrUnauthorized.
func (s *Service) Verify(tokenString string) (models.Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return models.Claims{}, fmt.Errorf("missing token: %w", apperr.ErrUnauthorized)
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired(), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.Claims{}, fmt.Errorf("token expired: %w", apperr.ErrUnauthorized)
		}
		return models.Claims{}, fmt.Errorf("invalid token: %w", apperr.ErrUnauthorized)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.ID == "" {
		return models.Claims{}, fmt.Errorf("invalid token claims: %w", apperr.ErrUnauthorized)
	}

	return models.Claims{
		ID:    claims.ID,
		Name:  claims.Name,
		Email: claims.Email,
		Role:  claims.Role,
	}, nil
}
