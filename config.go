package authkeep

import (
	"bytes"
	"errors"
	"time"
)

// Config is the full engine configuration. Instances are configured during
// initialization and treated as immutable afterwards; Build clones the
// config so later mutation of the caller's copy has no effect.
type Config struct {
	JWT          JWTConfig
	SignedTokens SignedTokenConfig
	RefreshStore RefreshStoreConfig
	TrialGuard   TrialGuardConfig
	Signup       SignupConfig
	Security     SecurityConfig
	Password     PasswordConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access and refresh credential minting. The two secrets
// must differ: a leaked refresh secret must not be able to forge access
// tokens and vice versa.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	AccessSecret  []byte
	RefreshSecret []byte
	Issuer        string
	Leeway        time.Duration
}

/*
====================================
SIGNED TOKEN CONFIG
====================================
*/

// SignedTokenConfig controls the HMAC codecs for email verification and
// password reset tokens. Expiry is embedded inside the signed payload, so
// the tokens stay valid-by-construction even if the backing record lags.
type SignedTokenConfig struct {
	EmailSecret     []byte
	ResetSecret     []byte
	VerificationTTL time.Duration
	ResetTTL        time.Duration
	MaxAttempts     int
}

/*
====================================
REFRESH STORE CONFIG
====================================
*/

// RefreshStoreConfig controls the Redis refresh-token row store. Revoked
// rows are kept past expiry for RetentionWindow so reuse forensics can see
// the full family lineage.
type RefreshStoreConfig struct {
	RedisPrefix     string
	RetentionWindow time.Duration
	SweepInterval   time.Duration
}

/*
====================================
TRIAL GUARD CONFIG
====================================
*/

// TrialGuardConfig holds the registration abuse thresholds. Threshold values
// must never appear in outward error messages.
type TrialGuardConfig struct {
	Enabled bool

	MaxTrialUsersPerIP int
	IPWindow           time.Duration

	MaxUsersPerAlias int
	AliasWindow      time.Duration

	DisposableDomains []string

	MinUserAgentLength int
	BotSignatures      []string

	MaxSignupsPerDevice int
	DeviceWindow        time.Duration
}

/*
====================================
SIGNUP CONFIG
====================================
*/

// SignupConfig is the global registration throughput cap, independent of
// any per-client heuristic.
type SignupConfig struct {
	Enabled      bool
	MaxPerWindow int
	Window       time.Duration
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds attempt throttles and the anti-enumeration delay
// applied on the forgot-password miss path.
type SecurityConfig struct {
	EnableIPThrottle        bool
	EnableRefreshThrottle   bool
	MaxLoginAttempts        int
	LoginCooldownDuration   time.Duration
	MaxRefreshAttempts      int
	RefreshCooldownDuration time.Duration
	EnumerationDelay        time.Duration
}

// PasswordConfig holds the bcrypt cost.
type PasswordConfig struct {
	Cost int
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			Leeway:     30 * time.Second,
		},
		SignedTokens: SignedTokenConfig{
			VerificationTTL: 24 * time.Hour,
			ResetTTL:        1 * time.Hour,
			MaxAttempts:     5,
		},
		RefreshStore: RefreshStoreConfig{
			RedisPrefix:     "art",
			RetentionWindow: 24 * time.Hour,
			SweepInterval:   10 * time.Minute,
		},
		TrialGuard: TrialGuardConfig{
			Enabled:             true,
			MaxTrialUsersPerIP:  3,
			IPWindow:            30 * 24 * time.Hour,
			MaxUsersPerAlias:    2,
			AliasWindow:         7 * 24 * time.Hour,
			MinUserAgentLength:  20,
			BotSignatures:       []string{"bot", "crawler", "spider", "curl", "wget", "python", "postman"},
			MaxSignupsPerDevice: 1,
			DeviceWindow:        24 * time.Hour,
		},
		Signup: SignupConfig{
			Enabled:      false,
			MaxPerWindow: 1000,
			Window:       time.Hour,
		},
		Security: SecurityConfig{
			EnableIPThrottle:        true,
			EnableRefreshThrottle:   true,
			MaxLoginAttempts:        5,
			LoginCooldownDuration:   15 * time.Minute,
			MaxRefreshAttempts:      20,
			RefreshCooldownDuration: 1 * time.Minute,
			EnumerationDelay:        120 * time.Millisecond,
		},
		Password: PasswordConfig{
			Cost: 12,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

// DefaultConfig returns the production defaults. Secrets are empty and must
// be set by the caller; Validate rejects the zero values.
func DefaultConfig() Config {
	return defaultConfig()
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.AccessSecret = cloneBytes(cfg.JWT.AccessSecret)
	out.JWT.RefreshSecret = cloneBytes(cfg.JWT.RefreshSecret)
	out.SignedTokens.EmailSecret = cloneBytes(cfg.SignedTokens.EmailSecret)
	out.SignedTokens.ResetSecret = cloneBytes(cfg.SignedTokens.ResetSecret)
	out.TrialGuard.DisposableDomains = cloneStrings(cfg.TrialGuard.DisposableDomains)
	out.TrialGuard.BotSignatures = cloneStrings(cfg.TrialGuard.BotSignatures)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneStrings(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

/*
====================================
VALIDATION
====================================
*/

const minSecretLength = 32

// Validate checks the config for internally inconsistent or insecure values.
// Build calls it; callers constructing configs by hand can call it early.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must exceed AccessTTL")
	}
	if len(c.JWT.AccessSecret) < minSecretLength {
		return errors.New("JWT AccessSecret must be at least 32 bytes")
	}
	if len(c.JWT.RefreshSecret) < minSecretLength {
		return errors.New("JWT RefreshSecret must be at least 32 bytes")
	}
	if bytes.Equal(c.JWT.AccessSecret, c.JWT.RefreshSecret) {
		return errors.New("JWT AccessSecret and RefreshSecret must differ")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Signed tokens
	if len(c.SignedTokens.EmailSecret) < minSecretLength {
		return errors.New("SignedTokens EmailSecret must be at least 32 bytes")
	}
	if len(c.SignedTokens.ResetSecret) < minSecretLength {
		return errors.New("SignedTokens ResetSecret must be at least 32 bytes")
	}
	if bytes.Equal(c.SignedTokens.EmailSecret, c.SignedTokens.ResetSecret) {
		return errors.New("SignedTokens EmailSecret and ResetSecret must differ")
	}
	if c.SignedTokens.VerificationTTL <= 0 {
		return errors.New("SignedTokens VerificationTTL must be > 0")
	}
	if c.SignedTokens.ResetTTL <= 0 {
		return errors.New("SignedTokens ResetTTL must be > 0")
	}
	if c.SignedTokens.MaxAttempts <= 0 {
		return errors.New("SignedTokens MaxAttempts must be > 0")
	}

	// Refresh store
	if c.RefreshStore.RedisPrefix == "" {
		return errors.New("RefreshStore RedisPrefix is required")
	}
	if c.RefreshStore.RetentionWindow < 0 {
		return errors.New("RefreshStore RetentionWindow must be >= 0")
	}
	if c.RefreshStore.SweepInterval <= 0 {
		return errors.New("RefreshStore SweepInterval must be > 0")
	}

	// Trial guard
	if c.TrialGuard.Enabled {
		if c.TrialGuard.MaxTrialUsersPerIP <= 0 {
			return errors.New("TrialGuard MaxTrialUsersPerIP must be > 0")
		}
		if c.TrialGuard.IPWindow <= 0 {
			return errors.New("TrialGuard IPWindow must be > 0")
		}
		if c.TrialGuard.MaxUsersPerAlias <= 0 {
			return errors.New("TrialGuard MaxUsersPerAlias must be > 0")
		}
		if c.TrialGuard.AliasWindow <= 0 {
			return errors.New("TrialGuard AliasWindow must be > 0")
		}
		if c.TrialGuard.MinUserAgentLength <= 0 {
			return errors.New("TrialGuard MinUserAgentLength must be > 0")
		}
		if c.TrialGuard.MaxSignupsPerDevice <= 0 {
			return errors.New("TrialGuard MaxSignupsPerDevice must be > 0")
		}
		if c.TrialGuard.DeviceWindow <= 0 {
			return errors.New("TrialGuard DeviceWindow must be > 0")
		}
	}

	// Signup cap
	if c.Signup.Enabled {
		if c.Signup.MaxPerWindow <= 0 {
			return errors.New("Signup MaxPerWindow must be > 0 when the cap is enabled")
		}
		if c.Signup.Window <= 0 {
			return errors.New("Signup Window must be > 0 when the cap is enabled")
		}
	}

	// Security
	if c.Security.MaxLoginAttempts <= 0 {
		return errors.New("MaxLoginAttempts must be > 0")
	}
	if c.Security.LoginCooldownDuration <= 0 {
		return errors.New("LoginCooldownDuration must be > 0")
	}
	if c.Security.EnableRefreshThrottle {
		if c.Security.MaxRefreshAttempts <= 0 {
			return errors.New("MaxRefreshAttempts must be > 0 when refresh throttle is enabled")
		}
		if c.Security.RefreshCooldownDuration <= 0 {
			return errors.New("RefreshCooldownDuration must be > 0 when refresh throttle is enabled")
		}
	}
	if c.Security.EnumerationDelay < 0 {
		return errors.New("EnumerationDelay must be >= 0")
	}

	// Password
	if c.Password.Cost < 10 || c.Password.Cost > 31 {
		return errors.New("Password Cost must be between 10 and 31")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
