// Package authtoken issues and verifies the HS256 credentials carried in the
// token cookie.
package authtoken

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pkt.systems/booksden/internal/clock"
)

// DefaultTTL is the lifetime of an issued credential.
const DefaultTTL = 24 * time.Hour

var (
	// ErrExpired is returned by Verify once the credential's exp has passed.
	ErrExpired = errors.New("authtoken: token expired")
	// ErrInvalid covers bad signatures, malformed tokens, unexpected
	// algorithms and missing identity claims.
	ErrInvalid = errors.New("authtoken: token invalid")
	// ErrMissingIdentity is returned by Issue for an empty email.
	ErrMissingIdentity = errors.New("authtoken: identity email required")
)

// Claims is the payload of an issued credential.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Identity is the verified subject of a credential.
type Identity struct {
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Config wires a Service.
type Config struct {
	Secret SecretSource
	// TTL defaults to DefaultTTL.
	TTL time.Duration
	// Clock defaults to clock.Real.
	Clock clock.Clock
}

// Service signs and verifies credentials.
type Service struct {
	secret SecretSource
	ttl    time.Duration
	clock  clock.Clock
}

// New validates cfg and returns a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Secret == nil {
		return nil, fmt.Errorf("authtoken: secret source required")
	}
	if _, err := cfg.Secret.Secret(); err != nil {
		return nil, err
	}
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("authtoken: ttl must be >= 0")
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	return &Service{secret: cfg.Secret, ttl: cfg.TTL, clock: cfg.Clock}, nil
}

// TTL returns the credential lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue signs {email, iat, exp=iat+ttl}.
func (s *Service) Issue(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ErrMissingIdentity
	}
	key, err := s.secret.Secret()
	if err != nil {
		return "", err
	}
	now := s.clock.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("authtoken: sign: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of token and returns its identity.
func (s *Service) Verify(token string) (Identity, error) {
	if strings.TrimSpace(token) == "" {
		return Identity{}, ErrInvalid
	}
	key, err := s.secret.Secret()
	if err != nil {
		return Identity{}, err
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
	)
	var claims Claims
	parsed, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !parsed.Valid || strings.TrimSpace(claims.Email) == "" {
		return Identity{}, ErrInvalid
	}
	id := Identity{Email: claims.Email}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}
