package authkeep

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventLoginSuccess             = "login_success"
	auditEventLoginFailure             = "login_failure"
	auditEventLoginRateLimited         = "login_rate_limited"
	auditEventRefreshSuccess           = "refresh_success"
	auditEventRefreshInvalid           = "refresh_invalid"
	auditEventRefreshRateLimited       = "refresh_rate_limited"
	auditEventRefreshReuseDetected     = "refresh_reuse_detected"
	auditEventFamilyRevoked            = "refresh_family_revoked"
	auditEventRegisterSuccess          = "register_success"
	auditEventRegisterFailure          = "register_failure"
	auditEventRegisterTrialAbuse       = "register_trial_abuse"
	auditEventRegisterCapReached       = "register_cap_reached"
	auditEventLogoutSession            = "logout_session"
	auditEventLogoutAll                = "logout_all"
	auditEventPasswordResetRequest     = "password_reset_request"
	auditEventPasswordResetConfirm     = "password_reset_confirm"
	auditEventEmailVerificationRequest = "email_verification_request"
	auditEventEmailVerificationConfirm = "email_verification_confirm"
	auditEventRateLimitTriggered       = "rate_limit_triggered"
	auditEventHighRiskLogin            = "high_risk_login"
)

// AuditErrorCode is the stable error vocabulary used in audit events.
// Audit consumers match on these strings, so they never change meaning.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrRefreshReuse       AuditErrorCode = "refresh_reuse"
	auditErrConflict           AuditErrorCode = "conflict"
	auditErrValidation         AuditErrorCode = "validation"
	auditErrTrialAbuse         AuditErrorCode = "trial_abuse"
	auditErrSignupCap          AuditErrorCode = "signup_cap"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope string, metadataBuilder func() map[string]string) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", "", nil, func() map[string]string {
		base := map[string]string{
			"scope": scope,
		}
		if metadataBuilder == nil {
			return base
		}
		for k, v := range metadataBuilder() {
			base[k] = v
		}
		return base
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrInvalidToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrLoginRateLimited),
		errors.Is(err, ErrRefreshRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrSignupCapReached):
		return auditErrSignupCap
	case errors.Is(err, ErrTrialAbuse):
		return auditErrTrialAbuse
	case errors.Is(err, ErrConflict):
		return auditErrConflict
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
