package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken indicates a token that is malformed, forged or expired.
	ErrInvalidToken = errors.New("invalid access token")
	// ErrInvalidSubject indicates a token whose subject is not a user id.
	ErrInvalidSubject = errors.New("invalid token subject")
)

// AccessToken is a signed bearer credential.
type AccessToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Manager issues and verifies HS256 access tokens.
type Manager struct {
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time
}

// NewManager constructs a Manager signing with secret. Tokens live for accessTTL.
func NewManager(secret string, accessTTL time.Duration) *Manager {
	if secret == "" {
		panic("auth: signing secret must not be empty")
	}
	if accessTTL <= 0 {
		accessTTL = 24 * time.Hour
	}
	return &Manager{secret: []byte(secret), accessTTL: accessTTL, now: time.Now}
}

// Issue signs a token for userID.
func (m *Manager) Issue(userID string) (AccessToken, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return AccessToken{}, fmt.Errorf("%w: %v", ErrInvalidSubject, err)
	}

	now := m.now().UTC()
	expiresAt := now.Add(m.accessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return AccessToken{}, fmt.Errorf("sign access token: %w", err)
	}
	return AccessToken{Token: signed, ExpiresAt: expiresAt}, nil
}

// Verify validates token and returns the user id it was issued for.
func (m *Manager) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil {
		return "", ErrInvalidToken
	}
	userID, err := uuid.Parse(sub)
	if err != nil {
		return "", ErrInvalidSubject
	}
	return userID.String(), nil
}
