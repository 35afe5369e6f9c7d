// Package rate implements the fixed-window request throttles that guard the
// authentication entry points. Counters live in Redis so every engine
// instance behind a load balancer sees the same window.
package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRateLimited is returned when a window is exhausted.
var ErrRateLimited = errors.New("rate: limit exceeded")

// Config bounds the two throttled surfaces. Zero maxima disable the
// corresponding check.
type Config struct {
	LoginMaxAttempts int
	LoginWindow      time.Duration

	RefreshMaxAttempts int
	RefreshWindow      time.Duration
}

// Limiter counts attempts per key in fixed windows. The first increment of
// a window sets the expiry; the counter and window then age out together.
type Limiter struct {
	rdb redis.UniversalClient
	cfg Config
}

func NewLimiter(rdb redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{rdb: rdb, cfg: cfg}
}

func loginKey(email, ip string) string {
	return "arl:login:" + email + ":" + ip
}

func refreshKey(sessionID string) string {
	return "arl:refresh:" + sessionID
}

// CheckLogin reports whether another login attempt for this email and IP is
// allowed. It does not consume the attempt; call RecordLoginFailure after a
// failed credential check.
func (l *Limiter) CheckLogin(ctx context.Context, email, ip string) error {
	if l.cfg.LoginMaxAttempts <= 0 {
		return nil
	}
	return l.check(ctx, loginKey(email, ip), int64(l.cfg.LoginMaxAttempts))
}

// RecordLoginFailure consumes one attempt from the login window. Successful
// logins never call this, so legitimate users are not penalized.
func (l *Limiter) RecordLoginFailure(ctx context.Context, email, ip string) error {
	if l.cfg.LoginMaxAttempts <= 0 {
		return nil
	}
	return l.increment(ctx, loginKey(email, ip), l.cfg.LoginWindow)
}

// ResetLogin clears the login window after a successful authentication.
func (l *Limiter) ResetLogin(ctx context.Context, email, ip string) error {
	return l.rdb.Del(ctx, loginKey(email, ip)).Err()
}

// AllowRefresh consumes one refresh attempt for a session, check and
// increment in one step. Refresh traffic is machine-driven, so unlike login
// every attempt counts.
func (l *Limiter) AllowRefresh(ctx context.Context, sessionID string) error {
	if l.cfg.RefreshMaxAttempts <= 0 {
		return nil
	}
	key := refreshKey(sessionID)
	n, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("rate: incr %s: %w", key, err)
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, key, l.cfg.RefreshWindow).Err(); err != nil {
			return fmt.Errorf("rate: expire %s: %w", key, err)
		}
	}
	if n > int64(l.cfg.RefreshMaxAttempts) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) check(ctx context.Context, key string, max int64) error {
	n, err := l.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("rate: get %s: %w", key, err)
	}
	if n >= max {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) increment(ctx context.Context, key string, window time.Duration) error {
	n, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("rate: incr %s: %w", key, err)
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, key, window).Err(); err != nil {
			return fmt.Errorf("rate: expire %s: %w", key, err)
		}
	}
	return nil
}
