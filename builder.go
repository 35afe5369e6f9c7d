package authkeep

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/authkeep/authkeep/internal/rate"
	"github.com/authkeep/authkeep/jwt"
	"github.com/authkeep/authkeep/password"
	"github.com/authkeep/authkeep/refreshtoken"
	"github.com/authkeep/authkeep/signedtoken"
)

// Builder assembles an [Engine]. Collect the dependencies with the With
// methods, then call Build once; the builder is not reusable afterwards.
type Builder struct {
	cfg     Config
	cfgSet  bool
	rdb     redis.UniversalClient
	users   UserProvider
	history TrialHistory
	mailer  Mailer
	sink    AuditSink
}

// New starts an engine build with production defaults. Secrets are unset
// and must come from WithConfig; Build fails otherwise.
func New() *Builder {
	return &Builder{cfg: defaultConfig()}
}

// WithConfig replaces the entire configuration. The config is cloned during
// Build, so the caller's copy can be discarded or mutated afterwards.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	b.cfgSet = true
	return b
}

// WithRedis sets the Redis client backing the refresh store, rate limiters,
// and pending-token records. Required.
func (b *Builder) WithRedis(rdb redis.UniversalClient) *Builder {
	b.rdb = rdb
	return b
}

// WithUserProvider sets the user database adapter. Required.
func (b *Builder) WithUserProvider(p UserProvider) *Builder {
	b.users = p
	return b
}

// WithTrialHistory sets the aggregate-query adapter behind trial-abuse
// screening. Without it the history-backed rules are skipped; the local
// rules (disposable domain, user agent) still apply.
func (b *Builder) WithTrialHistory(h TrialHistory) *Builder {
	b.history = h
	return b
}

// WithMailer sets the delivery channel for verification and reset tokens.
// Without it those flows mint and store tokens but deliver nothing, which
// is the useful shape for tests.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithAuditSink sets the audit destination and enables audit dispatch.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	b.cfg.Audit.Enabled = sink != nil
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.cfg.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the validate-latency histogram. Implies
// nothing unless metrics are enabled too.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.cfg.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, wires every component, and starts the
// background sweeper and audit dispatcher.
func (b *Builder) Build() (*Engine, error) {
	if b.rdb == nil {
		return nil, errors.New("authkeep: Redis client is required")
	}
	if b.users == nil {
		return nil, errors.New("authkeep: UserProvider is required")
	}

	cfg := cloneConfig(b.cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("authkeep: invalid config: %w", err)
	}

	jwtManager, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		AccessSecret:  cfg.JWT.AccessSecret,
		RefreshSecret: cfg.JWT.RefreshSecret,
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, fmt.Errorf("authkeep: jwt manager: %w", err)
	}

	hasher, err := password.New(cfg.Password.Cost)
	if err != nil {
		return nil, fmt.Errorf("authkeep: password hasher: %w", err)
	}

	emailCodec, err := signedtoken.New(cfg.SignedTokens.EmailSecret)
	if err != nil {
		return nil, fmt.Errorf("authkeep: email codec: %w", err)
	}
	resetCodec, err := signedtoken.New(cfg.SignedTokens.ResetSecret)
	if err != nil {
		return nil, fmt.Errorf("authkeep: reset codec: %w", err)
	}

	e := &Engine{
		cfg:        cfg,
		rdb:        b.rdb,
		users:      b.users,
		history:    b.history,
		mailer:     b.mailer,
		jwt:        jwtManager,
		hasher:     hasher,
		emailCodec: emailCodec,
		resetCodec: resetCodec,
		tokens:     refreshtoken.NewStore(b.rdb, cfg.RefreshStore.RedisPrefix, cfg.RefreshStore.RetentionWindow),
		limiter: rate.NewLimiter(b.rdb, rate.Config{
			LoginMaxAttempts:   cfg.Security.MaxLoginAttempts,
			LoginWindow:        cfg.Security.LoginCooldownDuration,
			RefreshMaxAttempts: cfg.Security.MaxRefreshAttempts,
			RefreshWindow:      cfg.Security.RefreshCooldownDuration,
		}),
		verification: newPendingStore(b.rdb, verificationKeyPrefix, cfg.SignedTokens.MaxAttempts),
		reset:        newPendingStore(b.rdb, resetKeyPrefix, cfg.SignedTokens.MaxAttempts),
		guard:        newTrialGuard(cfg.TrialGuard, b.history),
		audit:        newAuditDispatcher(cfg.Audit, b.sink),
		metrics:      NewMetrics(cfg.Metrics),
	}
	if cfg.Signup.Enabled {
		e.signupCap = newSignupLimiter(b.rdb, cfg.Signup.MaxPerWindow, cfg.Signup.Window)
	}

	sweepCtx, cancel := context.WithCancel(context.Background())
	e.sweepCancel = cancel
	e.sweepDone = make(chan struct{})
	go e.runSweeper(sweepCtx)

	return e, nil
}
