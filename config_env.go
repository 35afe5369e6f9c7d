package authkeep

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables recognized by LoadEnv.
const (
	envAccessSecret  = "JWT_SECRET"
	envRefreshSecret = "JWT_REFRESH_SECRET"
	envEmailSecret   = "EMAIL_TOKEN_SECRET"
	envResetSecret   = "PASSWORD_RESET_SECRET"

	envAccessTTL       = "ACCESS_TOKEN_TTL"
	envRefreshTTL      = "REFRESH_TOKEN_TTL"
	envVerificationTTL = "EMAIL_TOKEN_TTL"
	envResetTTL        = "PASSWORD_RESET_TTL"

	envTrialIPCap      = "TRIAL_MAX_USERS_PER_IP"
	envTrialAliasCap   = "TRIAL_MAX_USERS_PER_ALIAS"
	envTrialDisposable = "TRIAL_DISPOSABLE_DOMAINS"
	envSignupCap       = "SIGNUP_MAX_PER_WINDOW"
	envSignupCapWindow = "SIGNUP_CAP_WINDOW"
)

// LoadEnv builds a Config from environment variables, starting from
// DefaultConfig. Files listed in paths are loaded first via godotenv; a
// missing file is not an error, so production deployments can rely on real
// environment variables alone.
//
// The four secrets are required and must be at least 32 bytes. Everything
// else is optional and falls back to the defaults.
func LoadEnv(paths ...string) (Config, error) {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("load env file %s: %w", p, err)
		}
	}

	cfg := defaultConfig()

	var err error
	if cfg.JWT.AccessSecret, err = requireSecret(envAccessSecret); err != nil {
		return Config{}, err
	}
	if cfg.JWT.RefreshSecret, err = requireSecret(envRefreshSecret); err != nil {
		return Config{}, err
	}
	if cfg.SignedTokens.EmailSecret, err = requireSecret(envEmailSecret); err != nil {
		return Config{}, err
	}
	if cfg.SignedTokens.ResetSecret, err = requireSecret(envResetSecret); err != nil {
		return Config{}, err
	}

	if err := overrideDuration(envAccessTTL, &cfg.JWT.AccessTTL); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(envRefreshTTL, &cfg.JWT.RefreshTTL); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(envVerificationTTL, &cfg.SignedTokens.VerificationTTL); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(envResetTTL, &cfg.SignedTokens.ResetTTL); err != nil {
		return Config{}, err
	}

	if err := overrideInt(envTrialIPCap, &cfg.TrialGuard.MaxTrialUsersPerIP); err != nil {
		return Config{}, err
	}
	if err := overrideInt(envTrialAliasCap, &cfg.TrialGuard.MaxUsersPerAlias); err != nil {
		return Config{}, err
	}
	if v := os.Getenv(envTrialDisposable); v != "" {
		cfg.TrialGuard.DisposableDomains = splitDomains(v)
	}

	if v := os.Getenv(envSignupCap); v != "" {
		cfg.Signup.Enabled = true
		if err := overrideInt(envSignupCap, &cfg.Signup.MaxPerWindow); err != nil {
			return Config{}, err
		}
		if err := overrideDuration(envSignupCapWindow, &cfg.Signup.Window); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func requireSecret(name string) ([]byte, error) {
	v := os.Getenv(name)
	if v == "" {
		return nil, fmt.Errorf("%s is required", name)
	}
	if len(v) < minSecretLength {
		return nil, fmt.Errorf("%s must be at least %d characters", name, minSecretLength)
	}
	return []byte(v), nil
}

func overrideDuration(name string, target *time.Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", name, v)
	}
	*target = d
	return nil
}

func overrideInt(name string, target *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", name, v)
	}
	*target = n
	return nil
}

func splitDomains(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
