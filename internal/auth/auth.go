// Package auth gates the mutating admin endpoints behind a single operator
// password. When no password is configured the API is open, which is the
// expected mode for local arenas.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
)

const defaultTokenDuration = 24 * time.Hour

type claims struct {
	jwt.RegisteredClaims
}

// Manager issues and validates admin session tokens.
type Manager struct {
	passwordHash  []byte
	secret        []byte
	tokenDuration time.Duration
}

// NewManager hashes the operator password. An empty password disables auth.
// An empty secret gets a random one, invalidating sessions across restarts.
func NewManager(password, secret string) (*Manager, error) {
	m := &Manager{tokenDuration: defaultTokenDuration}
	if password == "" {
		return m, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	m.passwordHash = hash

	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generating session secret: %w", err)
		}
		secret = base64.StdEncoding.EncodeToString(buf)
	}
	m.secret = []byte(secret)
	return m, nil
}

// Enabled reports whether a password is configured.
func (m *Manager) Enabled() bool {
	return len(m.passwordHash) > 0
}

// Login verifies the password and issues a token.
func (m *Manager) Login(password string) (string, error) {
	if !m.Enabled() {
		return "", ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword(m.passwordHash, []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenDuration)),
			Issuer:    "trading-arena",
		},
	})
	return token.SignedString(m.secret)
}

// Validate checks a session token.
func (m *Manager) Validate(tokenString string) error {
	token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return ErrInvalidToken
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}
