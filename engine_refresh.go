package authkeep

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/authkeep/authkeep/fingerprint"
	"github.com/authkeep/authkeep/internal/rate"
	"github.com/authkeep/authkeep/refreshtoken"
)

/*
====================================
REFRESH
====================================
*/

// Refresh rotates a refresh token: the presented token is retired and a new
// pair is issued in the same session and rotation family. Presenting an
// already rotated token is treated as credential theft and revokes the
// entire family. Every failure surfaces as [ErrInvalidToken] or
// [ErrRefreshRateLimited]; the audit trail keeps the real disposition.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if e == nil || e.jwt == nil {
		return TokenPair{}, ErrEngineNotReady
	}

	claims, err := e.jwt.ParseRefresh(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", ErrInvalidToken, func() map[string]string {
			return map[string]string{"disposition": "unparseable"}
		})
		return TokenPair{}, ErrInvalidToken
	}

	if e.cfg.Security.EnableRefreshThrottle {
		err := e.limiter.AllowRefresh(ctx, claims.SessionID)
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricRefreshRateLimited)
			e.emitRateLimit(ctx, "refresh", nil)
			e.emitAudit(ctx, auditEventRefreshRateLimited, false, claims.Subject, claims.SessionID, ErrRefreshRateLimited, nil)
			return TokenPair{}, ErrRefreshRateLimited
		}
		if err != nil {
			return TokenPair{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	user, err := e.users.GetUserByID(ctx, claims.Subject)
	if errors.Is(err, ErrUserNotFound) {
		return TokenPair{}, e.refreshInvalid(ctx, claims.Subject, claims.SessionID, "unknown_user")
	}
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if user.Suspended {
		// A suspended account keeps no renewable sessions.
		if _, err := e.tokens.RevokeAllForUser(ctx, user.UserID, refreshtoken.RevokeUserSuspended, time.Now()); err != nil {
			return TokenPair{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return TokenPair{}, e.refreshInvalid(ctx, user.UserID, claims.SessionID, "suspended")
	}

	ip := clientIPFromContext(ctx)
	ua := userAgentFromContext(ctx)

	nextID := refreshtoken.NewTokenID()
	nextRaw, nextExpiry, err := e.jwt.CreateRefresh(user.UserID, claims.SessionID, claims.Family, nextID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("mint refresh token: %w", err)
	}

	now := time.Now()
	next := &refreshtoken.Token{
		ID:         nextID,
		UserID:     user.UserID,
		TokenHash:  refreshtoken.Hash(nextRaw),
		Family:     claims.Family,
		IssuedAt:   now,
		ExpiresAt:  nextExpiry,
		DeviceInfo: truncateUserAgent(ua),
		IPAddress:  ip,
	}

	res, err := e.tokens.Rotate(ctx, refreshtoken.Hash(refreshToken), next, now)
	switch {
	case err == nil:
		// rotated below
	case errors.Is(err, refreshtoken.ErrRevoked):
		return TokenPair{}, e.handleReuse(ctx, user.UserID, claims.SessionID, res.Family)
	case errors.Is(err, refreshtoken.ErrExpired):
		return TokenPair{}, e.refreshInvalid(ctx, user.UserID, claims.SessionID, "expired")
	case errors.Is(err, refreshtoken.ErrNotFound):
		return TokenPair{}, e.refreshInvalid(ctx, user.UserID, claims.SessionID, "not_found")
	default:
		return TokenPair{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	device := fingerprint.Device(ua, ip)
	accessRaw, accessExpiry, err := e.jwt.CreateAccess(user.UserID, user.Email, user.Role, user.Plan, claims.SessionID, device)
	if err != nil {
		return TokenPair{}, fmt.Errorf("mint access token: %w", err)
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, user.UserID, claims.SessionID, nil, func() map[string]string {
		return map[string]string{
			"family":     claims.Family,
			"generation": strconv.FormatInt(res.Generation, 10),
		}
	})

	return TokenPair{
		AccessToken:  accessRaw,
		RefreshToken: nextRaw,
		ExpiresAt:    accessExpiry,
	}, nil
}

// handleReuse responds to a rotation attempt with an already spent token.
// The whole family is revoked: the legitimate holder and the thief both go
// back through a full login, which is the only safe outcome once two
// parties hold tokens from one lineage.
func (e *Engine) handleReuse(ctx context.Context, userID, sessionID, family string) error {
	e.metricInc(MetricRefreshReuseDetected)
	e.emitAudit(ctx, auditEventRefreshReuseDetected, false, userID, sessionID, ErrInvalidToken, func() map[string]string {
		return map[string]string{"family": family}
	})

	if family != "" {
		n, err := e.tokens.RevokeFamily(ctx, family, refreshtoken.RevokeReuseDetected, time.Now())
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		e.metricInc(MetricFamilyRevoked)
		e.emitAudit(ctx, auditEventFamilyRevoked, true, userID, sessionID, nil, func() map[string]string {
			return map[string]string{
				"family":  family,
				"revoked": strconv.FormatInt(n, 10),
			}
		})
	}

	return ErrInvalidToken
}

func (e *Engine) refreshInvalid(ctx context.Context, userID, sessionID, disposition string) error {
	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, auditEventRefreshInvalid, false, userID, sessionID, ErrInvalidToken, func() map[string]string {
		return map[string]string{"disposition": disposition}
	})
	return ErrInvalidToken
}
