// Package internaldefs holds the shared metric name table used by the
// exporter packages. It is internal plumbing: importing it from application
// code buys nothing.
package internaldefs

import (
	"time"

	"github.com/authkeep/authkeep"
)

// CounterDef binds a MetricID to its stable exported name. Names follow
// the prometheus convention and never change once released.
type CounterDef struct {
	ID   authkeep.MetricID
	Name string
	Help string
}

// HistogramDef binds a histogram MetricID to its exported name and bucket
// upper bounds.
type HistogramDef struct {
	ID     authkeep.MetricID
	Name   string
	Help   string
	Bounds []time.Duration
}

// CounterDefs lists every exported counter.
func CounterDefs() []CounterDef {
	return []CounterDef{
		{authkeep.MetricLoginSuccess, "authkeep_login_success_total", "Successful logins."},
		{authkeep.MetricLoginFailure, "authkeep_login_failure_total", "Failed login attempts."},
		{authkeep.MetricLoginRateLimited, "authkeep_login_rate_limited_total", "Logins rejected by the attempt throttle."},
		{authkeep.MetricRefreshSuccess, "authkeep_refresh_success_total", "Successful token rotations."},
		{authkeep.MetricRefreshFailure, "authkeep_refresh_failure_total", "Rejected refresh attempts."},
		{authkeep.MetricRefreshReuseDetected, "authkeep_refresh_reuse_detected_total", "Refresh attempts with an already spent token."},
		{authkeep.MetricFamilyRevoked, "authkeep_refresh_family_revoked_total", "Rotation families revoked after reuse."},
		{authkeep.MetricRefreshRateLimited, "authkeep_refresh_rate_limited_total", "Refreshes rejected by the session throttle."},
		{authkeep.MetricRegisterSuccess, "authkeep_register_success_total", "Successful registrations."},
		{authkeep.MetricRegisterConflict, "authkeep_register_conflict_total", "Registrations rejected for duplicate email."},
		{authkeep.MetricRegisterTrialAbuse, "authkeep_register_trial_abuse_total", "Registrations declined by abuse heuristics."},
		{authkeep.MetricRegisterCapReached, "authkeep_register_cap_reached_total", "Registrations declined by the global signup cap."},
		{authkeep.MetricLogout, "authkeep_logout_total", "Single-session logouts."},
		{authkeep.MetricLogoutAll, "authkeep_logout_all_total", "All-session logouts."},
		{authkeep.MetricPasswordResetRequest, "authkeep_password_reset_request_total", "Password reset tokens issued."},
		{authkeep.MetricPasswordResetConfirmSuccess, "authkeep_password_reset_confirm_success_total", "Password resets completed."},
		{authkeep.MetricPasswordResetConfirmFailure, "authkeep_password_reset_confirm_failure_total", "Password reset confirmations rejected."},
		{authkeep.MetricEmailVerificationRequest, "authkeep_email_verification_request_total", "Verification tokens issued."},
		{authkeep.MetricEmailVerificationSuccess, "authkeep_email_verification_success_total", "Email verifications completed."},
		{authkeep.MetricEmailVerificationFailure, "authkeep_email_verification_failure_total", "Email verifications rejected."},
		{authkeep.MetricRateLimitHit, "authkeep_rate_limit_hit_total", "Requests rejected by any throttle."},
		{authkeep.MetricHighRiskLogin, "authkeep_high_risk_login_total", "Logins flagged by the advisory risk score."},
	}
}

// HistogramDefs lists every exported histogram. Bounds mirror the fixed
// in-process bucket layout.
func HistogramDefs() []HistogramDef {
	return []HistogramDef{
		{
			ID:   authkeep.MetricValidateLatency,
			Name: "authkeep_validate_latency_seconds",
			Help: "Access-token validation latency.",
			Bounds: []time.Duration{
				5 * time.Millisecond,
				10 * time.Millisecond,
				25 * time.Millisecond,
				50 * time.Millisecond,
				100 * time.Millisecond,
				250 * time.Millisecond,
				500 * time.Millisecond,
			},
		},
	}
}

// CumulativeBuckets converts the per-bucket counts coming out of a snapshot
// into the cumulative form both exposition formats want. The final bucket
// (+Inf) is included.
func CumulativeBuckets(counts []uint64) []uint64 {
	out := make([]uint64, len(counts))
	var total uint64
	for i, c := range counts {
		total += c
		out[i] = total
	}
	return out
}
