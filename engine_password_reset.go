package authkeep

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/authkeep/authkeep/refreshtoken"
)

/*
====================================
PASSWORD RESET
====================================
*/

// ForgotPassword starts a password reset. It returns nil whether or not the
// email maps to an account; the miss path burns a fixed delay so response
// timing does not reveal which. Accounts created through an external
// identity provider are silently skipped the same way.
func (e *Engine) ForgotPassword(ctx context.Context, email string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}

	email = normalizeEmail(email)
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}

	user, err := e.users.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return e.forgotPasswordMiss(ctx, "", "unknown_email")
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if user.PasswordLess {
		return e.forgotPasswordMiss(ctx, user.UserID, "passwordless")
	}

	token, err := e.resetCodec.SignTimed(signedPayload{UserID: user.UserID}, e.cfg.SignedTokens.ResetTTL)
	if err != nil {
		return fmt.Errorf("mint reset token: %w", err)
	}
	if err := e.reset.Put(ctx, user.UserID, token, e.cfg.SignedTokens.ResetTTL); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if e.mailer != nil {
		if err := e.mailer.SendPasswordResetEmail(ctx, user.Email, token); err != nil {
			// Returning a delivery error here would reveal that the
			// account exists. Audit it and report the uniform success.
			e.emitAudit(ctx, auditEventPasswordResetRequest, false, user.UserID, "", ErrStoreUnavailable, func() map[string]string {
				return map[string]string{"disposition": "mailer_failed"}
			})
			return nil
		}
	}

	e.metricInc(MetricPasswordResetRequest)
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, user.UserID, "", nil, nil)
	return nil
}

func (e *Engine) forgotPasswordMiss(ctx context.Context, userID, disposition string) error {
	if d := e.cfg.Security.EnumerationDelay; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
		}
	}
	e.emitAudit(ctx, auditEventPasswordResetRequest, false, userID, "", nil, func() map[string]string {
		return map[string]string{"disposition": disposition}
	})
	return nil
}

// ResetPassword redeems a reset token and installs the new password. On
// success every refresh session the user holds is revoked, so a stolen
// session cannot outlive the reset that was meant to evict it.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}

	if len(newPassword) < minPasswordLength {
		return fmt.Errorf("%w: password too short", ErrValidation)
	}
	if len(newPassword) > maxPasswordLength {
		return fmt.Errorf("%w: password too long", ErrValidation)
	}

	var payload signedPayload
	if err := e.resetCodec.Verify(token, &payload); err != nil {
		return e.resetFailure(ctx, "", "bad_signature")
	}

	switch err := e.reset.Consume(ctx, payload.UserID, token); {
	case err == nil:
	case errors.Is(err, errPendingNotFound):
		return e.resetFailure(ctx, payload.UserID, "no_pending")
	case errors.Is(err, errPendingExpired):
		return e.resetFailure(ctx, payload.UserID, "expired")
	case errors.Is(err, errPendingMismatch):
		return e.resetFailure(ctx, payload.UserID, "superseded")
	case errors.Is(err, errPendingAttempts):
		return e.resetFailure(ctx, payload.UserID, "attempts_exhausted")
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	user, err := e.users.GetUserByID(ctx, payload.UserID)
	if errors.Is(err, ErrUserNotFound) {
		return e.resetFailure(ctx, payload.UserID, "unknown_user")
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := e.users.UpdatePasswordHash(ctx, user.UserID, hash); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	revoked, err := e.tokens.RevokeAllForUser(ctx, user.UserID, refreshtoken.RevokePasswordReset, time.Now())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricPasswordResetConfirmSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, user.UserID, "", nil, func() map[string]string {
		return map[string]string{"revoked": strconv.FormatInt(revoked, 10)}
	})
	return nil
}

func (e *Engine) resetFailure(ctx context.Context, userID, disposition string) error {
	e.metricInc(MetricPasswordResetConfirmFailure)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, false, userID, "", ErrInvalidToken, func() map[string]string {
		return map[string]string{"disposition": disposition}
	})
	return ErrInvalidToken
}
