package authkeep

import (
	"context"
	"strings"
	"time"
)

/*
====================================
TRIAL GUARD
====================================
*/

// trialGuard screens registrations against the abuse heuristics. Each rule
// is independently sufficient to decline, and rules are evaluated in a
// fixed order so the reported reason is deterministic. Outward errors never
// carry threshold values.
type trialGuard struct {
	cfg     TrialGuardConfig
	history TrialHistory

	disposable map[string]struct{}
}

func newTrialGuard(cfg TrialGuardConfig, history TrialHistory) *trialGuard {
	g := &trialGuard{
		cfg:        cfg,
		history:    history,
		disposable: make(map[string]struct{}, len(cfg.DisposableDomains)),
	}
	for _, d := range cfg.DisposableDomains {
		g.disposable[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	return g
}

// Check screens one registration attempt. A nil error admits it; a
// *TrialAbuseError declines it with the first matching reason. Aggregate
// rules run before the local ones, so the caps are what a repeat abuser
// hears about first; without a history provider only the local rules apply.
func (g *trialGuard) Check(ctx context.Context, email, ip, userAgent string, now time.Time) error {
	if !g.cfg.Enabled {
		return nil
	}

	local, domain := splitEmail(email)

	if g.history != nil {
		if ip != "" {
			n, err := g.history.CountTrialUsersByIP(ctx, ip, now.Add(-g.cfg.IPWindow))
			if err != nil {
				return err
			}
			if n >= g.cfg.MaxTrialUsersPerIP {
				return &TrialAbuseError{Reason: TrialAbuseIPCap}
			}
		}

		base := stripPlusAlias(local)
		n, err := g.history.CountUsersByEmailBase(ctx, base, domain, now.Add(-g.cfg.AliasWindow))
		if err != nil {
			return err
		}
		if n >= g.cfg.MaxUsersPerAlias {
			return &TrialAbuseError{Reason: TrialAbuseAliasCap}
		}
	}

	if _, ok := g.disposable[domain]; ok {
		return &TrialAbuseError{Reason: TrialAbuseDisposableDomain}
	}
	if g.suspectUserAgent(userAgent) {
		return &TrialAbuseError{Reason: TrialAbuseUserAgent}
	}

	if g.history != nil && ip != "" && userAgent != "" {
		n, err := g.history.CountSignupsByDevice(ctx, ip, userAgent, now.Add(-g.cfg.DeviceWindow))
		if err != nil {
			return err
		}
		if n >= g.cfg.MaxSignupsPerDevice {
			return &TrialAbuseError{Reason: TrialAbuseDeviceReuse}
		}
	}

	return nil
}

// suspectUserAgent flags absent, implausibly short, or automation-tool
// user agents.
func (g *trialGuard) suspectUserAgent(ua string) bool {
	ua = strings.TrimSpace(ua)
	if len(ua) < g.cfg.MinUserAgentLength {
		return true
	}
	lower := strings.ToLower(ua)
	for _, sig := range g.cfg.BotSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// splitEmail lowercases and splits an address at the last '@'. An address
// with no '@' yields an empty domain; Register has already validated shape
// by the time the guard runs.
func splitEmail(email string) (local, domain string) {
	email = strings.ToLower(strings.TrimSpace(email))
	i := strings.LastIndexByte(email, '@')
	if i < 0 {
		return email, ""
	}
	return email[:i], email[i+1:]
}

// stripPlusAlias drops everything from the first '+' in the local part, so
// user+a@x and user+b@x count as the same base.
func stripPlusAlias(local string) string {
	if i := strings.IndexByte(local, '+'); i >= 0 {
		return local[:i]
	}
	return local
}
