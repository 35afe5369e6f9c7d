package authkeep

import (
	"context"
	"time"
)

// runSweeper periodically prunes index-set members whose token rows Redis
// has already expired. Row keys clean themselves up via TTL; the sweeper
// only keeps the family and user sets from accumulating dead references.
func (e *Engine) runSweeper(ctx context.Context) {
	defer close(e.sweepDone)

	ticker := time.NewTicker(e.cfg.RefreshStore.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Sweep failures self-heal on the next tick.
			_, _ = e.tokens.Sweep(ctx)
		}
	}
}
