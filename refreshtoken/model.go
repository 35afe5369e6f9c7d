// Package refreshtoken persists refresh-token rows in Redis, grouped into
// rotation families. Rows are append-only: every rotation writes a new row
// and marks the old one revoked, so the full lineage of a credential stays
// queryable until retention expires. All multi-step mutations run as Lua
// scripts, which Redis executes atomically; rotation therefore has exactly
// one winner per token no matter how many callers race.
package refreshtoken

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// RevokeReason records why a row left the active state. The set is closed:
// a switch over it needs no default arm, and the store rejects strings
// outside it on decode.
type RevokeReason uint8

const (
	// RevokeLogout: the user ended the session.
	RevokeLogout RevokeReason = iota
	// RevokeRotation: the row was superseded by its successor generation.
	RevokeRotation
	// RevokeReuseDetected: a revoked family member was presented again.
	RevokeReuseDetected
	// RevokeUserSuspended: the account was suspended.
	RevokeUserSuspended
	// RevokeAdminAction: an operator force-revoked the session.
	RevokeAdminAction
	// RevokePasswordReset: all sessions were invalidated after a password
	// reset.
	RevokePasswordReset
)

func (r RevokeReason) String() string {
	switch r {
	case RevokeLogout:
		return "logout"
	case RevokeRotation:
		return "rotation"
	case RevokeReuseDetected:
		return "reuse_detected"
	case RevokeUserSuspended:
		return "user_suspended"
	case RevokeAdminAction:
		return "admin_action"
	case RevokePasswordReset:
		return "password_reset"
	default:
		return "unknown"
	}
}

func parseRevokeReason(s string) (RevokeReason, bool) {
	switch s {
	case "logout":
		return RevokeLogout, true
	case "rotation":
		return RevokeRotation, true
	case "reuse_detected":
		return RevokeReuseDetected, true
	case "user_suspended":
		return RevokeUserSuspended, true
	case "admin_action":
		return RevokeAdminAction, true
	case "password_reset":
		return RevokePasswordReset, true
	default:
		return 0, false
	}
}

// Token is one refresh-token row. TokenHash is the SHA-256 of the raw
// credential; the plaintext never reaches the store.
type Token struct {
	ID            string
	UserID        string
	TokenHash     string
	Family        string
	Generation    int64
	IssuedAt      time.Time
	ExpiresAt     time.Time
	Revoked       bool
	RevokedAt     time.Time
	RevokedReason RevokeReason
	DeviceInfo    string
	IPAddress     string
}

// Active reports whether the row can still be rotated at the given time.
func (t *Token) Active(now time.Time) bool {
	return t != nil && !t.Revoked && t.ExpiresAt.After(now)
}

// GenerateFamily returns a fresh rotation-family identifier. One family is
// minted per login event and survives every rotation descended from it.
func GenerateFamily() string {
	return uuid.NewString()
}

// NewTokenID returns a row identifier.
func NewTokenID() string {
	return uuid.NewString()
}

// Hash reduces a raw refresh credential to its storage key.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
