// Package auth issues and validates the JWTs the gateway authenticates with,
// and wraps bcrypt password hashing.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"mirrorchat/internal/normalize"
)

// JWTManager signs and validates JWT tokens used by the API. It holds one or
// more keys indexed by kid so signing keys can be rotated without
// invalidating previously issued tokens.
type JWTManager struct {
	keys      map[string]string
	activeKid string
	duration  time.Duration
}

// Claims is the custom JWT payload (user id + email).
type Claims struct {
	UserID               string `json:"user_id"`
	Email                string `json:"email"`
	jwt.RegisteredClaims        // ExpiresAt, IssuedAt, etc.
}

// NewJWTManager returns a manager with a single signing key.
func NewJWTManager(secretKey string, duration time.Duration) *JWTManager {
	return NewJWTManagerFromKeys(map[string]string{"": secretKey}, "", duration)
}

// NewJWTManagerFromKeys returns a manager with a keyset. Tokens are signed
// with the active kid; verification accepts any key in the set.
func NewJWTManagerFromKeys(keys map[string]string, activeKid string, duration time.Duration) *JWTManager {
	return &JWTManager{keys: keys, activeKid: activeKid, duration: duration}
}

// GenerateToken issues a signed JWT for a user. The email claim is stored
// normalized so downstream comparisons do not depend on caller casing.
func (m *JWTManager) GenerateToken(userID, email string) (string, time.Time, error) {
	expiresAt := time.Now().Add(m.duration)

	claims := &Claims{
		UserID: userID,
		Email:  normalize.Email(email),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if m.activeKid != "" {
		token.Header["kid"] = m.activeKid
	}

	secret, ok := m.keys[m.activeKid]
	if !ok {
		return "", time.Time{}, fmt.Errorf("auth: no signing key for kid %q", m.activeKid)
	}
	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// VerifyToken parses and validates a token and returns its claims. Tokens
// signed by any key in the set are accepted, so rotated-out keys keep
// verifying until removed from the keyset.
func (m *JWTManager) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		if secret, ok := m.keys[kid]; ok {
			return []byte(secret), nil
		}
		return nil, fmt.Errorf("auth: unknown kid %q", kid)
	})
	if err != nil {
		// a token carrying a kid missing from the set (or none at all) may
		// still have been signed by a key we hold; try them all before
		// rejecting
		if c, fallbackErr := m.verifyAgainstAnyKey(tokenString); fallbackErr == nil {
			return c, nil
		}
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func (m *JWTManager) verifyAgainstAnyKey(tokenString string) (*Claims, error) {
	var lastErr error
	for _, secret := range m.keys {
		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err == nil && token.Valid {
			return claims, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("invalid token")
	}
	return nil, lastErr
}

// HashPassword returns a bcrypt hash for the provided plaintext.
func HashPassword(password string) (string, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedPassword), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
// Timing-safe against brute force.
func CheckPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
