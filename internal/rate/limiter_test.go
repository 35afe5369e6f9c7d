package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	srv, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(srv.Close)

	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewLimiter(client, cfg), srv
}

func TestLoginWindow(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestLimiter(t, Config{LoginMaxAttempts: 3, LoginWindow: 15 * time.Minute})

	const email, ip = "dana@example.com", "203.0.113.42"

	for i := 0; i < 3; i++ {
		if err := limiter.CheckLogin(ctx, email, ip); err != nil {
			t.Fatalf("attempt %d blocked early: %v", i+1, err)
		}
		if err := limiter.RecordLoginFailure(ctx, email, ip); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}

	if err := limiter.CheckLogin(ctx, email, ip); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}

	// Other identities are unaffected.
	if err := limiter.CheckLogin(ctx, "other@example.com", ip); err != nil {
		t.Errorf("other email blocked: %v", err)
	}
	if err := limiter.CheckLogin(ctx, email, "198.51.100.9"); err != nil {
		t.Errorf("other ip blocked: %v", err)
	}
}

func TestCheckLoginDoesNotConsume(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestLimiter(t, Config{LoginMaxAttempts: 1, LoginWindow: 15 * time.Minute})

	for i := 0; i < 5; i++ {
		if err := limiter.CheckLogin(ctx, "dana@example.com", "203.0.113.42"); err != nil {
			t.Fatalf("check %d consumed the window: %v", i+1, err)
		}
	}
}

func TestResetLoginClearsWindow(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestLimiter(t, Config{LoginMaxAttempts: 1, LoginWindow: 15 * time.Minute})

	const email, ip = "dana@example.com", "203.0.113.42"

	if err := limiter.RecordLoginFailure(ctx, email, ip); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if err := limiter.CheckLogin(ctx, email, ip); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}

	if err := limiter.ResetLogin(ctx, email, ip); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := limiter.CheckLogin(ctx, email, ip); err != nil {
		t.Fatalf("blocked after reset: %v", err)
	}
}

func TestLoginWindowExpires(t *testing.T) {
	ctx := context.Background()
	limiter, srv := newTestLimiter(t, Config{LoginMaxAttempts: 1, LoginWindow: 15 * time.Minute})

	const email, ip = "dana@example.com", "203.0.113.42"

	if err := limiter.RecordLoginFailure(ctx, email, ip); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if err := limiter.CheckLogin(ctx, email, ip); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}

	srv.FastForward(16 * time.Minute)

	if err := limiter.CheckLogin(ctx, email, ip); err != nil {
		t.Fatalf("blocked after window expiry: %v", err)
	}
}

func TestAllowRefresh(t *testing.T) {
	ctx := context.Background()
	limiter, srv := newTestLimiter(t, Config{RefreshMaxAttempts: 2, RefreshWindow: time.Minute})

	const session = "session-1"

	for i := 0; i < 2; i++ {
		if err := limiter.AllowRefresh(ctx, session); err != nil {
			t.Fatalf("attempt %d blocked early: %v", i+1, err)
		}
	}
	if err := limiter.AllowRefresh(ctx, session); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}

	if err := limiter.AllowRefresh(ctx, "session-2"); err != nil {
		t.Errorf("other session blocked: %v", err)
	}

	srv.FastForward(2 * time.Minute)

	if err := limiter.AllowRefresh(ctx, session); err != nil {
		t.Fatalf("blocked after window expiry: %v", err)
	}
}

func TestZeroMaximaDisableThrottling(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestLimiter(t, Config{})

	for i := 0; i < 50; i++ {
		if err := limiter.CheckLogin(ctx, "dana@example.com", "203.0.113.42"); err != nil {
			t.Fatalf("login check: %v", err)
		}
		if err := limiter.RecordLoginFailure(ctx, "dana@example.com", "203.0.113.42"); err != nil {
			t.Fatalf("record failure: %v", err)
		}
		if err := limiter.AllowRefresh(ctx, "session-1"); err != nil {
			t.Fatalf("refresh: %v", err)
		}
	}
}
