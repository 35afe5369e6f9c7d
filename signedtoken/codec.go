// Package signedtoken implements compact HMAC-SHA256 signed tokens for
// short-lived, single-purpose credentials such as email verification and
// password reset links.
//
// Tokens are body.signature where both halves are unpadded base64url. The
// body is a JSON envelope carrying the caller payload, a random nonce, and
// optionally an embedded expiry. Verification is constant-time and returns
// a single error for every failure mode, so a caller holding a token can
// never learn whether it was malformed, tampered, or expired.
package signedtoken

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ErrInvalid is the only verification error. Malformed, tampered, and
// expired tokens are indistinguishable to the holder.
var ErrInvalid = errors.New("invalid signed token")

const (
	minSecretLength = 32
	nonceLength     = 16
)

// Codec signs and verifies tokens under a single secret. One codec per
// purpose: verification tokens and reset tokens must use different secrets
// so a token minted for one flow can never pass the other.
type Codec struct {
	secret []byte
}

type envelope struct {
	Data      json.RawMessage `json:"d"`
	Nonce     []byte          `json:"n"`
	ExpiresAt int64           `json:"exp,omitempty"`
}

// New creates a Codec. The secret must be at least 32 bytes.
func New(secret []byte) (*Codec, error) {
	if len(secret) < minSecretLength {
		return nil, errors.New("signedtoken: secret must be at least 32 bytes")
	}
	owned := make([]byte, len(secret))
	copy(owned, secret)
	return &Codec{secret: owned}, nil
}

// Sign produces a token without an embedded expiry. Use only for flows
// that cross-check a stored record carrying its own expiry; SignTimed is
// the default.
func (c *Codec) Sign(payload any) (string, error) {
	return c.sign(payload, 0)
}

// SignTimed produces a token whose expiry is embedded inside the signed
// body. Verify rejects it after the deadline with no store lookup.
func (c *Codec) SignTimed(payload any, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", errors.New("signedtoken: ttl must be > 0")
	}
	return c.sign(payload, time.Now().Add(ttl).Unix())
}

func (c *Codec) sign(payload any, expiresAt int64) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	body, err := json.Marshal(envelope{
		Data:      data,
		Nonce:     nonce,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return "", err
	}

	encoded := base64.RawURLEncoding.EncodeToString(body)
	return encoded + "." + c.mac(encoded), nil
}

// Verify checks the signature and embedded expiry, then unmarshals the
// payload into out. out may be nil when only validity matters.
func (c *Codec) Verify(token string, out any) error {
	body, sig, ok := strings.Cut(token, ".")
	if !ok || body == "" || sig == "" {
		return ErrInvalid
	}

	if !hmac.Equal([]byte(sig), []byte(c.mac(body))) {
		return ErrInvalid
	}

	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return ErrInvalid
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ErrInvalid
	}
	if env.ExpiresAt != 0 && time.Now().Unix() > env.ExpiresAt {
		return ErrInvalid
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return ErrInvalid
	}

	return nil
}

func (c *Codec) mac(body string) string {
	h := hmac.New(sha256.New, c.secret)
	h.Write([]byte(body))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
