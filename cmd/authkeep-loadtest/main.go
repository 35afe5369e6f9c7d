// Command authkeep-loadtest exercises the engine's hot paths against an
// in-process Redis, for quick before/after numbers when touching the login
// or rotation code. Not a benchmark harness; run it twice and eyeball.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/authkeep/authkeep"
)

func main() {
	users := flag.Int("users", 50, "accounts to register")
	refreshes := flag.Int("refreshes", 20, "rotations per account")
	workers := flag.Int("workers", 8, "concurrent workers")
	flag.Parse()

	srv, err := miniredis.Run()
	if err != nil {
		log.Fatalf("miniredis: %v", err)
	}
	defer srv.Close()

	cfg := authkeep.DefaultConfig()
	cfg.JWT.AccessSecret = []byte("loadtest-access-secret-0123456789abcdef")
	cfg.JWT.RefreshSecret = []byte("loadtest-refresh-secret-0123456789abcde")
	cfg.SignedTokens.EmailSecret = []byte("loadtest-email-secret-0123456789abcdef0")
	cfg.SignedTokens.ResetSecret = []byte("loadtest-reset-secret-0123456789abcdef0")
	cfg.TrialGuard.Enabled = false
	cfg.Security.EnableIPThrottle = false
	cfg.Security.EnableRefreshThrottle = false
	cfg.Password.Cost = 10
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	engine, err := authkeep.New().
		WithConfig(cfg).
		WithRedis(redis.NewClient(&redis.Options{Addr: srv.Addr()})).
		WithUserProvider(&flatProvider{hashes: map[string]string{}}).
		Build()
	if err != nil {
		log.Fatalf("engine: %v", err)
	}
	defer engine.Close()

	ctx := authkeep.WithClientIP(context.Background(), "203.0.113.10")
	ctx = authkeep.WithUserAgent(ctx, "Mozilla/5.0 (X11; Linux x86_64) loadtest-driver/1.0")

	var failures atomic.Uint64
	jobs := make(chan int)
	var wg sync.WaitGroup

	start := time.Now()
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := runAccount(ctx, engine, i, *refreshes); err != nil {
					failures.Add(1)
				}
			}
		}()
	}
	for i := 0; i < *users; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	elapsed := time.Since(start)

	snap := engine.MetricsSnapshot()
	fmt.Printf("elapsed            %v\n", elapsed.Round(time.Millisecond))
	fmt.Printf("accounts           %d (%d failed)\n", *users, failures.Load())
	fmt.Printf("logins             %d\n", snap.Counters[authkeep.MetricLoginSuccess])
	fmt.Printf("rotations          %d\n", snap.Counters[authkeep.MetricRefreshSuccess])
	fmt.Printf("rotation failures  %d\n", snap.Counters[authkeep.MetricRefreshFailure])
	fmt.Printf("validate buckets   %v\n", snap.Histograms[authkeep.MetricValidateLatency])
}

func runAccount(ctx context.Context, engine *authkeep.Engine, i, refreshes int) error {
	email := fmt.Sprintf("load%04d@example.test", i)
	const pw = "correct horse battery staple"

	result, err := engine.Register(ctx, authkeep.RegisterRequest{Email: email, Password: pw})
	if err != nil {
		return fmt.Errorf("register %s: %w", email, err)
	}
	if _, err := engine.ValidateAccess(ctx, result.Tokens.AccessToken); err != nil {
		return fmt.Errorf("validate registration token %s: %w", email, err)
	}

	pair, err := engine.Login(ctx, email, pw)
	if err != nil {
		return fmt.Errorf("login %s: %w", email, err)
	}

	for r := 0; r < refreshes; r++ {
		if _, err := engine.ValidateAccess(ctx, pair.AccessToken); err != nil {
			return fmt.Errorf("validate %s: %w", email, err)
		}
		pair, err = engine.Refresh(ctx, pair.RefreshToken)
		if err != nil {
			return fmt.Errorf("refresh %s round %d: %w", email, r, err)
		}
	}

	return engine.Logout(ctx, pair.RefreshToken)
}

// flatProvider is the smallest possible user store: everything derived from
// the email, only the password hash and verified flag actually stored.
type flatProvider struct {
	mu       sync.RWMutex
	hashes   map[string]string
	verified map[string]bool
}

func (p *flatProvider) GetUserByEmail(_ context.Context, email string) (authkeep.UserRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	hash, ok := p.hashes[email]
	if !ok {
		return authkeep.UserRecord{}, authkeep.ErrUserNotFound
	}
	return authkeep.UserRecord{UserID: email, Email: email, PasswordHash: hash, Role: "user", Plan: "trial"}, nil
}

func (p *flatProvider) GetUserByID(ctx context.Context, userID string) (authkeep.UserRecord, error) {
	return p.GetUserByEmail(ctx, userID)
}

func (p *flatProvider) CreateUser(_ context.Context, input authkeep.CreateUserInput) (authkeep.UserRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.hashes[input.Email]; exists {
		return authkeep.UserRecord{}, authkeep.ErrConflict
	}
	p.hashes[input.Email] = input.PasswordHash
	return authkeep.UserRecord{UserID: input.Email, Email: input.Email, PasswordHash: input.PasswordHash, Role: input.Role, Plan: input.Plan}, nil
}

func (p *flatProvider) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.hashes[userID]; !ok {
		return authkeep.ErrUserNotFound
	}
	p.hashes[userID] = newHash
	return nil
}

func (p *flatProvider) MarkEmailVerified(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.verified == nil {
		p.verified = map[string]bool{}
	}
	p.verified[userID] = true
	return nil
}
