package authkeep

import (
	"errors"
	"sync"
	"testing"
)

// Sixteen goroutines race to rotate the same refresh token. The rotation
// script serializes them inside Redis, so exactly one wins; every loser is
// told the token is invalid.
func TestConcurrentRefreshHasExactlyOneWinner(t *testing.T) {
	fx := newTestEngine(t, func(cfg *Config) {
		// Plenty of headroom so the throttle never decides the race.
		cfg.Security.MaxRefreshAttempts = 100
	})
	pair := loginTestUser(t, fx)

	const racers = 16

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		invalids  int
		others    []error
	)

	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start

			_, err := fx.engine.Refresh(testContext(), pair.RefreshToken)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrInvalidToken):
				invalids++
			default:
				others = append(others, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes != 1 {
		t.Errorf("successes = %d, want exactly 1", successes)
	}
	if invalids != racers-1 {
		t.Errorf("invalid-token results = %d, want %d", invalids, racers-1)
	}
	for _, err := range others {
		t.Errorf("unexpected error class: %v", err)
	}
}
