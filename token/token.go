// Package token signs and verifies the access and refresh tokens issued
// by the engine. Verification is pure: validity is determined by the
// signature, the expiry, and the embedded type tag alone. Revocation is
// enforced one layer up, by the refresh-family and session stores, which
// means an access token stays valid until its natural expiry even after
// the owning session is revoked. That is an accepted tradeoff; keep the
// access TTL short.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token type tags embedded in the "typ" claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

var (
	// ErrTokenExpired is returned when a structurally valid token is past
	// its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid is returned for bad signatures, malformed tokens,
	// and type-tag mismatches.
	ErrTokenInvalid = errors.New("invalid token")
)

const minSecretBytes = 32

// Claims is the payload carried by both token types. Family is only set
// on refresh tokens, Roles only on access tokens.
type Claims struct {
	TokenType string   `json:"typ"`
	Roles     []string `json:"roles,omitempty"`
	Family    string   `json:"fam,omitempty"`
	jwt.RegisteredClaims
}

// Codec mints and verifies HS256-signed tokens with a symmetric secret.
type Codec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// New creates a Codec. The secret must be at least 32 bytes; shorter
// secrets are a configuration error, not something to silently pad.
func New(secret []byte, issuer string) (*Codec, error) {
	if len(secret) < minSecretBytes {
		return nil, errors.New("token signing secret must be at least 32 bytes")
	}
	return &Codec{
		secret: secret,
		issuer: issuer,
		now:    time.Now,
	}, nil
}

// WithClock overrides the codec clock. Intended for tests.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	c.now = now
	return c
}

// CreateAccess mints an access token for the subject with the given
// roles and TTL.
func (c *Codec) CreateAccess(userID string, roles []string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", errors.New("invalid access TTL")
	}
	now := c.now()
	claims := Claims{
		TokenType: TypeAccess,
		Roles:     roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// CreateRefresh mints a refresh token bound to a rotation family. Each
// token carries a unique jti, so two mints with otherwise identical
// claims never produce the same signed text. The returned time is the
// token expiry, for the caller to persist alongside the rotation
// record.
func (c *Codec) CreateRefresh(userID, family string, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		return "", time.Time{}, errors.New("invalid refresh TTL")
	}
	if family == "" {
		return "", time.Time{}, errors.New("refresh token requires a family")
	}
	now := c.now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		TokenType: TypeRefresh,
		Family:    family,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a token, requiring the embedded type tag
// to match expectedType. Returns ErrTokenExpired past expiry and
// ErrTokenInvalid for every other failure, including a type mismatch:
// a refresh token presented where an access token is expected must not
// verify, and vice versa.
func (c *Codec) Verify(tokenStr, expectedType string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)

	parsed, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.TokenType != expectedType {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	if c.issuer != "" && claims.Issuer != c.issuer {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
