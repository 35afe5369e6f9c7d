package authkeep

import (
	"context"
	"time"
)

// UserProvider is the primary interface that callers must implement to
// integrate authkeep with their user database. It covers credential lookup,
// account creation, password updates, and email-verification state.
//
// Implementations must return [ErrUserNotFound] for missing accounts and
// [ErrConflict] when CreateUser hits a duplicate email.
type UserProvider interface {
	GetUserByEmail(ctx context.Context, email string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	CreateUser(ctx context.Context, input CreateUserInput) (UserRecord, error)
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error
	MarkEmailVerified(ctx context.Context, userID string) error
}

// TrialHistory answers the aggregate queries behind trial-abuse screening.
// It is read-only: the engine decides, the caller's store remembers.
type TrialHistory interface {
	// CountTrialUsersByIP counts trial accounts registered from ip since
	// the given time.
	CountTrialUsersByIP(ctx context.Context, ip string, since time.Time) (int, error)
	// CountUsersByEmailBase counts accounts whose email shares the same
	// base and domain after stripping any plus-alias suffix.
	CountUsersByEmailBase(ctx context.Context, base, domain string, since time.Time) (int, error)
	// CountSignupsByDevice counts signups that presented the exact ip and
	// user-agent pair since the given time.
	CountSignupsByDevice(ctx context.Context, ip, userAgent string, since time.Time) (int, error)
}

// Mailer delivers verification and reset tokens. The engine never formats
// or sends email itself.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, email, token string) error
	SendPasswordResetEmail(ctx context.Context, email, token string) error
}

// UserRecord is the full account record returned by [UserProvider].
type UserRecord struct {
	UserID        string
	Email         string
	PasswordHash  string
	Role          string
	Plan          string
	EmailVerified bool
	Suspended     bool
	// PasswordLess marks accounts created through an external identity
	// provider. Forgot-password silently skips them.
	PasswordLess bool
}

// CreateUserInput is the input for [UserProvider.CreateUser].
type CreateUserInput struct {
	Email        string
	PasswordHash string
	Role         string
	Plan         string
	SignupIP     string
	SignupUA     string
}

// RegisterRequest is the input for [Engine.Register]. Client IP and user
// agent travel via [WithClientIP] and [WithUserAgent] on the context.
type RegisterRequest struct {
	Email    string
	Password string
	Plan     string
}

// RegisterResult is returned by [Engine.Register].
type RegisterResult struct {
	UserID string
	Tokens TokenPair
}

// TokenPair carries one issued access/refresh credential pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	// ExpiresAt is the access-token expiry, for clients that schedule
	// refreshes ahead of time.
	ExpiresAt time.Time
}

// AuthResult is returned by [Engine.ValidateAccess]. It contains the
// authenticated identity claims plus the session binding.
type AuthResult struct {
	UserID            string
	Email             string
	Role              string
	Plan              string
	SessionID         string
	DeviceFingerprint string
}
