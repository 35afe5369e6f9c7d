package authkeep

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/authkeep/authkeep/fingerprint"
	"github.com/authkeep/authkeep/internal/rate"
	"github.com/authkeep/authkeep/jwt"
	"github.com/authkeep/authkeep/password"
	"github.com/authkeep/authkeep/refreshtoken"
	"github.com/authkeep/authkeep/signedtoken"
)

// Risk scores at or above this are flagged in audit as high-risk logins.
// The score never blocks the login; it is advisory signal for consumers.
const highRiskThreshold = 60

// Refresh-token rows remember at most this much of the user agent.
const maxStoredUserAgent = 256

// Engine is the session-security core. Construct it with [New] and the
// builder methods; the zero value is not usable.
type Engine struct {
	cfg     Config
	rdb     redis.UniversalClient
	users   UserProvider
	history TrialHistory
	mailer  Mailer

	jwt        *jwt.Manager
	hasher     *password.Hasher
	emailCodec *signedtoken.Codec
	resetCodec *signedtoken.Codec

	tokens       *refreshtoken.Store
	limiter      *rate.Limiter
	signupCap    *signupLimiter
	verification *pendingStore
	reset        *pendingStore
	guard        *trialGuard

	audit   *auditDispatcher
	metrics *Metrics

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// Close stops the background sweeper and drains the audit dispatcher. The
// engine must not be used afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.sweepCancel != nil {
		e.sweepCancel()
		<-e.sweepDone
	}
	e.audit.Close()
}

// MetricsSnapshot returns a point-in-time copy of the in-process metrics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// Metrics exposes the live counters for exporters.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// AuditDropped reports how many audit events were discarded because the
// dispatch buffer was full.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}

/*
====================================
LOGIN
====================================
*/

// Login authenticates an email and password and issues a token pair. Every
// authentication failure surfaces as [ErrInvalidCredentials]; the audit
// trail keeps the real disposition.
func (e *Engine) Login(ctx context.Context, email, plaintext string) (TokenPair, error) {
	if e == nil || e.users == nil {
		return TokenPair{}, ErrEngineNotReady
	}

	email = normalizeEmail(email)
	if email == "" || plaintext == "" {
		return TokenPair{}, fmt.Errorf("%w: email and password are required", ErrValidation)
	}

	ip := clientIPFromContext(ctx)

	if e.cfg.Security.EnableIPThrottle {
		err := e.limiter.CheckLogin(ctx, email, ip)
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			e.emitRateLimit(ctx, "login", func() map[string]string {
				return map[string]string{"email": email}
			})
			e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", ErrLoginRateLimited, nil)
			return TokenPair{}, ErrLoginRateLimited
		}
		if err != nil {
			return TokenPair{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	user, err := e.users.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		// Burn the same bcrypt cost as a real comparison so unknown
		// emails are not distinguishable by response time.
		e.hasher.DummyCompare(plaintext)
		return TokenPair{}, e.loginFailure(ctx, email, ip, "", "unknown_email")
	}
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if !e.hasher.Verify(plaintext, user.PasswordHash) {
		return TokenPair{}, e.loginFailure(ctx, email, ip, user.UserID, "bad_password")
	}
	if user.Suspended {
		return TokenPair{}, e.loginFailure(ctx, email, ip, user.UserID, "suspended")
	}

	if e.cfg.Security.EnableIPThrottle {
		if err := e.limiter.ResetLogin(ctx, email, ip); err != nil {
			return TokenPair{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	score := e.scoreLogin(ctx, user.UserID)

	pair, sessionID, err := e.issue(ctx, user)
	if err != nil {
		return TokenPair{}, err
	}

	if score >= highRiskThreshold {
		e.metricInc(MetricHighRiskLogin)
		e.emitAudit(ctx, auditEventHighRiskLogin, true, user.UserID, sessionID, nil, func() map[string]string {
			return map[string]string{"risk_score": strconv.Itoa(score)}
		})
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.UserID, sessionID, nil, func() map[string]string {
		return map[string]string{"risk_score": strconv.Itoa(score)}
	})

	return pair, nil
}

func (e *Engine) loginFailure(ctx context.Context, email, ip, userID, disposition string) error {
	if e.cfg.Security.EnableIPThrottle {
		if err := e.limiter.RecordLoginFailure(ctx, email, ip); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, "", ErrInvalidCredentials, func() map[string]string {
		return map[string]string{"disposition": disposition}
	})
	return ErrInvalidCredentials
}

// scoreLogin computes the advisory risk score from the user's retained
// token rows. Scoring failures degrade to zero; risk signal is never worth
// failing a login over.
func (e *Engine) scoreLogin(ctx context.Context, userID string) int {
	rows, err := e.tokens.ListForUser(ctx, userID)
	if err != nil {
		return 0
	}

	previous := make([]fingerprint.Sample, 0, len(rows))
	for _, row := range rows {
		previous = append(previous, fingerprint.Sample{
			IP:        row.IPAddress,
			UserAgent: row.DeviceInfo,
			Seen:      row.IssuedAt,
		})
	}

	return fingerprint.RiskScore(previous, fingerprint.Sample{
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Seen:      time.Now(),
	})
}

// issue mints a session: new rotation family, generation-one refresh row,
// and the access token bound to both. The row is persisted before any
// credential is returned, so a token the caller holds always has a row
// behind it.
func (e *Engine) issue(ctx context.Context, user UserRecord) (TokenPair, string, error) {
	ip := clientIPFromContext(ctx)
	ua := userAgentFromContext(ctx)

	sessionID, err := fingerprint.SessionID(ua, ip)
	if err != nil {
		return TokenPair{}, "", fmt.Errorf("session id: %w", err)
	}
	device := fingerprint.Device(ua, ip)

	family := refreshtoken.GenerateFamily()
	tokenID := refreshtoken.NewTokenID()

	refreshRaw, refreshExpiry, err := e.jwt.CreateRefresh(user.UserID, sessionID, family, tokenID)
	if err != nil {
		return TokenPair{}, "", fmt.Errorf("mint refresh token: %w", err)
	}

	now := time.Now()
	row := &refreshtoken.Token{
		ID:         tokenID,
		UserID:     user.UserID,
		TokenHash:  refreshtoken.Hash(refreshRaw),
		Family:     family,
		Generation: 1,
		IssuedAt:   now,
		ExpiresAt:  refreshExpiry,
		DeviceInfo: truncateUserAgent(ua),
		IPAddress:  ip,
	}
	if err := e.tokens.Save(ctx, row); err != nil {
		return TokenPair{}, "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	accessRaw, accessExpiry, err := e.jwt.CreateAccess(user.UserID, user.Email, user.Role, user.Plan, sessionID, device)
	if err != nil {
		return TokenPair{}, "", fmt.Errorf("mint access token: %w", err)
	}

	return TokenPair{
		AccessToken:  accessRaw,
		RefreshToken: refreshRaw,
		ExpiresAt:    accessExpiry,
	}, sessionID, nil
}

/*
====================================
VALIDATE
====================================
*/

// ValidateAccess checks an access token and returns the authenticated
// identity. Purely local: signature, expiry, and claim-shape checks, no
// store round trip.
func (e *Engine) ValidateAccess(ctx context.Context, token string) (AuthResult, error) {
	if e == nil || e.jwt == nil {
		return AuthResult{}, ErrEngineNotReady
	}

	start := time.Now()
	claims, err := e.jwt.ParseAccess(token)
	e.metrics.Observe(MetricValidateLatency, time.Since(start))
	if err != nil {
		return AuthResult{}, ErrInvalidToken
	}

	return AuthResult{
		UserID:            claims.Subject,
		Email:             claims.Email,
		Role:              claims.Role,
		Plan:              claims.Plan,
		SessionID:         claims.SessionID,
		DeviceFingerprint: claims.DeviceFingerprint,
	}, nil
}

/*
====================================
LOGOUT
====================================
*/

// Logout revokes the refresh row behind the presented token. The access
// token stays valid until its natural expiry; only the session's ability to
// renew ends here. Revoking an already revoked session is not an error.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if e == nil || e.jwt == nil {
		return ErrEngineNotReady
	}

	claims, err := e.jwt.ParseRefresh(refreshToken)
	if err != nil {
		return ErrInvalidToken
	}

	err = e.tokens.Revoke(ctx, refreshtoken.Hash(refreshToken), refreshtoken.RevokeLogout, time.Now())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogoutSession, true, claims.Subject, claims.SessionID, nil, nil)
	return nil
}

// LogoutAll revokes every live refresh row the user holds, across all
// devices and rotation families.
func (e *Engine) LogoutAll(ctx context.Context, userID string) error {
	if e == nil || e.tokens == nil {
		return ErrEngineNotReady
	}
	if userID == "" {
		return fmt.Errorf("%w: userID is required", ErrValidation)
	}

	n, err := e.tokens.RevokeAllForUser(ctx, userID, refreshtoken.RevokeLogout, time.Now())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, "", nil, func() map[string]string {
		return map[string]string{"revoked": strconv.FormatInt(n, 10)}
	})
	return nil
}

/*
====================================
HELPERS
====================================
*/

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func truncateUserAgent(ua string) string {
	if len(ua) > maxStoredUserAgent {
		return ua[:maxStoredUserAgent]
	}
	return ua
}
