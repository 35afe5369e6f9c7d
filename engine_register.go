package authkeep

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

/*
====================================
REGISTER
====================================
*/

const (
	// PlanTrial is the default plan for new registrations and the one the
	// abuse heuristics guard.
	PlanTrial = "trial"

	minPasswordLength = 8
	// bcrypt silently truncates past 72 bytes, so longer inputs are
	// rejected rather than partially hashed.
	maxPasswordLength = 72
	maxEmailLength    = 254

	defaultRole = "user"
)

// Register creates an account and issues its first token pair. Trial
// registrations are screened by the abuse heuristics first; any of them
// declines with a [TrialAbuseError] that names the rule but never the
// threshold. A sent verification email is best-effort and does not fail
// the registration.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (RegisterResult, error) {
	if e == nil || e.users == nil {
		return RegisterResult{}, ErrEngineNotReady
	}

	email := normalizeEmail(req.Email)
	if err := validateRegistration(email, req.Password); err != nil {
		return RegisterResult{}, err
	}

	plan := strings.ToLower(strings.TrimSpace(req.Plan))
	if plan == "" {
		plan = PlanTrial
	}

	ip := clientIPFromContext(ctx)
	ua := userAgentFromContext(ctx)

	if e.signupCap != nil {
		admitted, err := e.signupCap.Allow(ctx)
		if err != nil {
			return RegisterResult{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if !admitted {
			e.metricInc(MetricRegisterCapReached)
			e.emitAudit(ctx, auditEventRegisterCapReached, false, "", "", ErrSignupCapReached, nil)
			return RegisterResult{}, ErrSignupCapReached
		}
	}

	if plan == PlanTrial {
		err := e.guard.Check(ctx, email, ip, ua, time.Now())
		var abuse *TrialAbuseError
		if errors.As(err, &abuse) {
			e.metricInc(MetricRegisterTrialAbuse)
			e.emitAudit(ctx, auditEventRegisterTrialAbuse, false, "", "", err, func() map[string]string {
				return map[string]string{"reason": abuse.Reason.String()}
			})
			return RegisterResult{}, err
		}
		if err != nil {
			return RegisterResult{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := e.users.CreateUser(ctx, CreateUserInput{
		Email:        email,
		PasswordHash: hash,
		Role:         defaultRole,
		Plan:         plan,
		SignupIP:     ip,
		SignupUA:     truncateUserAgent(ua),
	})
	if errors.Is(err, ErrConflict) {
		e.metricInc(MetricRegisterConflict)
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", ErrConflict, nil)
		return RegisterResult{}, ErrConflict
	}
	if err != nil {
		return RegisterResult{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	pair, sessionID, err := e.issue(ctx, user)
	if err != nil {
		return RegisterResult{}, err
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, user.UserID, sessionID, nil, func() map[string]string {
		return map[string]string{"plan": plan}
	})

	// Kick off verification; delivery problems are audited, not returned.
	if err := e.RequestEmailVerification(ctx, user.UserID); err != nil {
		e.emitAudit(ctx, auditEventEmailVerificationRequest, false, user.UserID, "", err, nil)
	}

	return RegisterResult{UserID: user.UserID, Tokens: pair}, nil
}

func validateRegistration(email, plaintext string) error {
	if email == "" || len(email) > maxEmailLength {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return fmt.Errorf("%w: malformed email", ErrValidation)
	}
	if len(plaintext) < minPasswordLength {
		return fmt.Errorf("%w: password too short", ErrValidation)
	}
	if len(plaintext) > maxPasswordLength {
		return fmt.Errorf("%w: password too long", ErrValidation)
	}
	return nil
}
