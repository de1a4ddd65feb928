package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// TokenTTL is the lifetime of an issued session token
const TokenTTL = 24 * time.Hour

// ErrDisabled is returned when no signing secret is configured
var ErrDisabled = errors.New("auth: no jwt secret configured")

// Claims carried by an analyzer session token
type Claims struct {
	jwt.RegisteredClaims
}

// Manager issues and validates admin session tokens. The analyzer has a
// single admin identity; the password and signing secret come from the
// API configuration. An empty secret disables token auth entirely and the
// API leaves mutating endpoints open.
type Manager struct {
	secret   []byte
	password string
}

// NewManager creates a token manager from the configured secret and admin
// password. The password may be a bcrypt hash or a plain value.
func NewManager(secret, adminPassword string) *Manager {
	return &Manager{
		secret:   []byte(secret),
		password: adminPassword,
	}
}

// Enabled reports whether token auth is configured
func (m *Manager) Enabled() bool {
	return len(m.secret) > 0
}

// VerifyPassword checks a login attempt against the configured admin
// password. Values with a bcrypt prefix are treated as hashes; anything
// else is compared in constant time. An empty configured password rejects
// every attempt.
func (m *Manager) VerifyPassword(password string) bool {
	if m.password == "" {
		return false
	}
	if strings.HasPrefix(m.password, "$2a$") ||
		strings.HasPrefix(m.password, "$2b$") ||
		strings.HasPrefix(m.password, "$2y$") {
		return bcrypt.CompareHashAndPassword([]byte(m.password), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(m.password), []byte(password)) == 1
}

// GenerateToken issues a signed admin token
func (m *Manager) GenerateToken() (string, error) {
	if !m.Enabled() {
		return "", ErrDisabled
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			Issuer:    "lorawan-analyzer",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateToken parses and verifies a token string
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	if !m.Enabled() {
		return nil, ErrDisabled
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
