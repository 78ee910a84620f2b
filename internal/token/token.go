package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verification failures. The HTTP layer collapses all three into a
// generic unauthorized response; the distinction exists for logging.
var (
	ErrExpired          = errors.New("access token expired")
	ErrSignatureInvalid = errors.New("access token signature invalid")
	ErrMalformed        = errors.New("access token malformed")
)

// Claims represents the JWT payload for access tokens.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Config fixes the signing secret and token shape for the process
// lifetime. Injected once at startup.
type Config struct {
	Secret   string
	Issuer   string
	Audience []string
	TTL      time.Duration
}

// Manager issues and verifies signed access tokens. It is stateless:
// verification needs no store lookup, which also means an issued token
// cannot be revoked before its expiry. The short TTL bounds that window.
type Manager struct {
	config Config
}

// NewManager constructs a Manager.
func NewManager(config Config) *Manager {
	return &Manager{config: config}
}

// TTL reports the configured access token lifetime.
func (m *Manager) TTL() time.Duration {
	return m.config.TTL
}

// Issue creates a signed HS256 token embedding the user reference with
// an absolute expiry of now + TTL.
func (m *Manager) Issue(userID, email string, now time.Time) (string, time.Time, error) {
	issuedAt := now.UTC()
	expiresAt := issuedAt.Add(m.config.TTL)
	claims := &Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   userID,
			Audience:  m.config.Audience,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.config.Secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify checks signature integrity and expiry and returns the embedded
// claims only if both pass.
func (m *Manager) Verify(signed string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(signed, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(m.config.Secret), nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrSignatureInvalid
		default:
			return nil, ErrMalformed
		}
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrMalformed
	}

	return claims, nil
}
