package authkeep

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is returned by Login for every authentication
	// failure: unknown email, wrong password, or suspended account. The
	// collapse is deliberate; callers must not be able to probe which.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken is returned for every token failure: malformed,
	// expired, revoked, wrong purpose, or bad signature.
	ErrInvalidToken = errors.New("invalid token")
	// ErrConflict is returned by Register when the email is already taken.
	ErrConflict = errors.New("resource conflict")
	// ErrValidation is returned for malformed input (empty email, short
	// password, oversized fields).
	ErrValidation = errors.New("validation failed")
	// ErrLoginRateLimited is returned when the login attempt budget for an
	// identifier or IP is exhausted.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrRefreshRateLimited is returned when the refresh attempt budget for
	// a session is exhausted.
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	// ErrSignupCapReached is returned by Register when the global signup
	// counter for the current window is saturated.
	ErrSignupCapReached = errors.New("signup capacity reached")
	// ErrUserNotFound is returned by UserProvider implementations when no
	// account matches the lookup. The engine never surfaces it outward.
	ErrUserNotFound = errors.New("user not found")
	// ErrStoreUnavailable wraps Redis transport failures.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrEngineNotReady is returned when an Engine method is called on a
	// partially constructed engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ErrTrialAbuse is the common unwrap target of every [TrialAbuseError], so
// callers can branch with a single errors.Is check.
var ErrTrialAbuse = errors.New("trial abuse detected")

// TrialAbuseReason identifies which registration heuristic rejected the
// signup. The set is closed; a switch over it needs no default arm.
type TrialAbuseReason uint8

const (
	// TrialAbuseIPCap means too many trial accounts were created from the
	// source IP inside the lookback window.
	TrialAbuseIPCap TrialAbuseReason = iota
	// TrialAbuseAliasCap means too many accounts share the same email
	// base+domain after stripping the plus-alias suffix.
	TrialAbuseAliasCap
	// TrialAbuseDisposableDomain means the email domain is on the
	// configured disposable-provider list.
	TrialAbuseDisposableDomain
	// TrialAbuseUserAgent means the user agent was absent, implausibly
	// short, or matched an automation signature.
	TrialAbuseUserAgent
	// TrialAbuseDeviceReuse means the exact IP and user-agent pair already
	// produced a signup inside the lookback window.
	TrialAbuseDeviceReuse
)

// String reports the reason without echoing any configured threshold.
func (r TrialAbuseReason) String() string {
	switch r {
	case TrialAbuseIPCap:
		return "ip_cap"
	case TrialAbuseAliasCap:
		return "alias_cap"
	case TrialAbuseDisposableDomain:
		return "disposable_domain"
	case TrialAbuseUserAgent:
		return "user_agent"
	case TrialAbuseDeviceReuse:
		return "device_reuse"
	default:
		return "unknown"
	}
}

// TrialAbuseError is returned by Register when a trial-abuse heuristic
// rejects the signup. It unwraps to [ErrTrialAbuse].
type TrialAbuseError struct {
	Reason TrialAbuseReason
}

func (e *TrialAbuseError) Error() string {
	return fmt.Sprintf("trial abuse detected: %s", e.Reason)
}

func (e *TrialAbuseError) Unwrap() error {
	return ErrTrialAbuse
}
