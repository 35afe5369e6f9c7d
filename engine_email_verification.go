package authkeep

import (
	"context"
	"errors"
	"fmt"
)

/*
====================================
EMAIL VERIFICATION
====================================
*/

// signedPayload is the claim set inside verification and reset tokens. The
// two flows share the shape but never the secret, so a token minted for one
// can never pass the other codec.
type signedPayload struct {
	UserID string `json:"uid"`
}

// RequestEmailVerification mints a verification token for the user and
// hands it to the mailer. At most one token is pending per user; requesting
// again invalidates the previous link. Already verified accounts are a
// no-op.
func (e *Engine) RequestEmailVerification(ctx context.Context, userID string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if user.EmailVerified {
		return nil
	}

	token, err := e.emailCodec.SignTimed(signedPayload{UserID: user.UserID}, e.cfg.SignedTokens.VerificationTTL)
	if err != nil {
		return fmt.Errorf("mint verification token: %w", err)
	}
	if err := e.verification.Put(ctx, user.UserID, token, e.cfg.SignedTokens.VerificationTTL); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if e.mailer != nil {
		if err := e.mailer.SendVerificationEmail(ctx, user.Email, token); err != nil {
			return fmt.Errorf("send verification email: %w", err)
		}
	}

	e.metricInc(MetricEmailVerificationRequest)
	e.emitAudit(ctx, auditEventEmailVerificationRequest, true, user.UserID, "", nil, nil)
	return nil
}

// VerifyEmail redeems a verification token and marks the account verified.
// The token must both carry a valid signature and match the pending record,
// so it is spent exactly once. Every failure surfaces as [ErrInvalidToken].
func (e *Engine) VerifyEmail(ctx context.Context, token string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}

	var payload signedPayload
	if err := e.emailCodec.Verify(token, &payload); err != nil {
		return e.verificationFailure(ctx, "", "bad_signature")
	}

	switch err := e.verification.Consume(ctx, payload.UserID, token); {
	case err == nil:
	case errors.Is(err, errPendingNotFound):
		return e.verificationFailure(ctx, payload.UserID, "no_pending")
	case errors.Is(err, errPendingExpired):
		return e.verificationFailure(ctx, payload.UserID, "expired")
	case errors.Is(err, errPendingMismatch):
		return e.verificationFailure(ctx, payload.UserID, "superseded")
	case errors.Is(err, errPendingAttempts):
		return e.verificationFailure(ctx, payload.UserID, "attempts_exhausted")
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := e.users.MarkEmailVerified(ctx, payload.UserID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, auditEventEmailVerificationConfirm, true, payload.UserID, "", nil, nil)
	return nil
}

func (e *Engine) verificationFailure(ctx context.Context, userID, disposition string) error {
	e.metricInc(MetricEmailVerificationFailure)
	e.emitAudit(ctx, auditEventEmailVerificationConfirm, false, userID, "", ErrInvalidToken, func() map[string]string {
		return map[string]string{"disposition": disposition}
	})
	return ErrInvalidToken
}
