package authkeep

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

/*
====================================
SIGNUP CAP
====================================
*/

const signupCapKey = "arl:signupcap"

// signupCapScript is a saturating check-then-increment. Once the counter
// reaches the cap it stops advancing, so a burst of rejected signups cannot
// push the window further out or overflow the count.
//
// KEYS: 1 counter. ARGV: 1 cap, 2 window(ms). Returns 1 when the signup is
// admitted.
var signupCapScript = redis.NewScript(`
local n = tonumber(redis.call("GET", KEYS[1]) or "0")
if n >= tonumber(ARGV[1]) then
  return 0
end
n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 1
`)

// signupLimiter enforces the global registration throughput cap. It is
// unrelated to the per-client trial heuristics: this one protects overall
// capacity, not against any individual abuser.
type signupLimiter struct {
	rdb    redis.UniversalClient
	max    int
	window time.Duration
}

func newSignupLimiter(rdb redis.UniversalClient, max int, window time.Duration) *signupLimiter {
	return &signupLimiter{rdb: rdb, max: max, window: window}
}

// Allow admits one signup into the current window. It consumes a slot only
// when admitted.
func (l *signupLimiter) Allow(ctx context.Context) (bool, error) {
	raw, err := signupCapScript.Run(ctx, l.rdb,
		[]string{signupCapKey},
		l.max, l.window.Milliseconds(),
	).Result()
	if err != nil {
		return false, err
	}
	admitted, _ := raw.(int64)
	return admitted == 1, nil
}
