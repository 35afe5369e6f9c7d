// Package authkeep provides the session-security core of a multi-tenant SaaS
// authentication system: JWT access tokens, rotating refresh-token families with
// reuse detection, device fingerprinting with advisory risk scoring, trial-abuse
// screening at registration, and HMAC signed tokens for email verification and
// password reset.
//
// The package is designed for concurrent server workloads: Engine methods are safe
// to call from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authkeep is the public surface. It exposes [Engine], [Builder], [Config], and
// value types (TokenPair, AuthResult, MetricsSnapshot, etc.). User persistence is
// externalized behind [UserProvider], [TrialHistory], and [Mailer]; the engine
// itself owns only Redis-backed security state (refresh-token rows, pending
// verification and reset records, counters).
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or encoding details in its public API.
//   - Perform I/O outside of Engine methods (construction via Builder is
//     allocation-only until Build).
//   - Send email itself; all delivery goes through the caller's [Mailer].
//
// # Security contract
//
// Refresh rotation is linearizable per token: concurrent refreshes with the same
// token produce exactly one winner. Presenting any revoked member of a rotation
// family revokes the whole family. Outward errors never reveal whether an account
// exists or why a token was rejected.
package authkeep
