package session

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/filedrop/pkg/domain"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidCookie is returned by a Codec for values it did not produce or that expired.
var ErrInvalidCookie = errors.New("invalid session cookie")

// Codec turns a session identifier into a cookie value and back.
// It owns the cookie's integrity; stores never see cookie values.
type Codec interface {
	Encode(sessionID string, ttl time.Duration) (string, error)
	Decode(value string) (string, error)
}

// cookieClaims is the signed payload of a session cookie.
type cookieClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// JWTCodec signs session identifiers as HS256 JSON Web Tokens.
type JWTCodec struct {
	secret []byte
	now    func() time.Time
}

// NewJWTCodec creates a codec that signs with secret.
func NewJWTCodec(secret []byte) *JWTCodec {
	return &JWTCodec{secret: secret, now: time.Now}
}

// RandomSecret returns a fresh 64-byte signing secret.
// Cookies signed with it do not survive a restart.
func RandomSecret() ([]byte, error) {
	secret := make([]byte, 64)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate cookie secret: %w", err)
	}
	return secret, nil
}

// Encode signs sessionID. A positive ttl sets the token expiry.
func (c *JWTCodec) Encode(sessionID string, ttl time.Duration) (string, error) {
	now := c.now()
	claims := cookieClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session cookie: %w", err)
	}
	return signed, nil
}

// Decode verifies the signature and expiry of value and returns the session identifier.
func (c *JWTCodec) Decode(value string) (string, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
	)
	token, err := parser.ParseWithClaims(value, &cookieClaims{}, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCookie, err)
	}

	claims, ok := token.Claims.(*cookieClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidCookie
	}
	if err := domain.ValidateID(claims.SessionID); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCookie, err)
	}
	return claims.SessionID, nil
}
