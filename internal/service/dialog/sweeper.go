package dialog

import (
	"context"
	"log"
	"time"
)

// Sweep tears down sessions idle for longer than ttl, releasing their
// attachments exactly as cancellation would. It returns the number removed.
func (e *Engine) Sweep(ctx context.Context, ttl time.Duration) int {
	expired := e.store.Expire(ctx, time.Now().UTC().Add(-ttl))
	for _, s := range expired {
		log.Printf("[dialog] user=%s session %s expired in state %s", s.UserID, s.ID, s.State)
		e.collector.Release(ctx, s.Attachments)
	}
	return len(expired)
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (e *Engine) RunSweeper(ctx context.Context, interval, ttl time.Duration) {
	if ttl <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep(ctx, ttl)
		}
	}
}
