// Package jwt mints and parses the access and refresh credentials. Both
// are HS256 JWTs signed with distinct secrets; a refresh token can never
// pass access validation or vice versa.
package jwt

import (
	"bytes"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const minSecretLength = 32

// Config defines the manager's signing parameters. AccessSecret and
// RefreshSecret must differ so one leaked key cannot forge the other
// credential class.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	AccessSecret  []byte
	RefreshSecret []byte
	Issuer        string
	Leeway        time.Duration
}

// Manager is an immutable token factory safe for concurrent use.
type Manager struct {
	config Config
}

// AccessClaims is the access-token payload. Subject carries the user ID.
type AccessClaims struct {
	Email             string `json:"email"`
	Role              string `json:"role"`
	Plan              string `json:"plan"`
	SessionID         string `json:"sessionId"`
	DeviceFingerprint string `json:"deviceFingerprint"`
	jwt.RegisteredClaims
}

// RefreshClaims is the refresh-token payload. It additionally carries the
// rotation family so the engine can collapse a compromised lineage, and
// the ID claim names the stored token row.
type RefreshClaims struct {
	SessionID string `json:"sessionId"`
	Family    string `json:"family"`
	jwt.RegisteredClaims
}

// NewManager validates the config and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if len(cfg.AccessSecret) < minSecretLength {
		return nil, errors.New("access secret must be at least 32 bytes")
	}
	if len(cfg.RefreshSecret) < minSecretLength {
		return nil, errors.New("refresh secret must be at least 32 bytes")
	}
	if bytes.Equal(cfg.AccessSecret, cfg.RefreshSecret) {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}

	return &Manager{config: cfg}, nil
}

// CreateAccess mints an access token. The returned time is the embedded
// expiry, for clients that schedule refreshes ahead of it.
func (m *Manager) CreateAccess(userID, email, role, plan, sessionID, deviceFingerprint string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(m.config.AccessTTL)

	claims := AccessClaims{
		Email:             email,
		Role:              role,
		Plan:              plan,
		SessionID:         sessionID,
		DeviceFingerprint: deviceFingerprint,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: userID,
			// Unique per mint; two tokens for the same session within
			// one second must still differ.
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.config.Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.config.AccessSecret)
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

// CreateRefresh mints a refresh token bound to the given rotation family.
// tokenID names the persisted row and lands in the registered ID claim.
func (m *Manager) CreateRefresh(userID, sessionID, family, tokenID string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(m.config.RefreshTTL)

	claims := RefreshClaims{
		SessionID: sessionID,
		Family:    family,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        tokenID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.config.Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.config.RefreshSecret)
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

// ParseAccess validates an access token against the access secret.
func (m *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := m.parse(tokenStr, claims, m.config.AccessSecret); err != nil {
		return nil, err
	}
	return claims, nil
}

// ParseRefresh validates a refresh token against the refresh secret.
func (m *Manager) ParseRefresh(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := m.parse(tokenStr, claims, m.config.RefreshSecret); err != nil {
		return nil, err
	}
	if claims.Family == "" || claims.ID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func (m *Manager) parse(tokenStr string, claims jwt.Claims, secret []byte) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return jwt.ErrTokenInvalidClaims
	}

	return nil
}
