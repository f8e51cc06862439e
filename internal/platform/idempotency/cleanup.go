package idempotency

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunCleanup purges expired entries every interval until ctx ends.
func RunCleanup(ctx context.Context, store Store, interval time.Duration, batch int, logger *zap.Logger) {
	if store == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			purgeCtx, cancel := context.WithTimeout(ctx, time.Minute)
			n, err := store.Purge(purgeCtx, now.UTC(), batch)
			cancel()
			switch {
			case err != nil:
				logger.Error("idempotency purge failed", zap.Error(err))
			case n > 0:
				logger.Info("idempotency entries purged", zap.Int("count", n))
			}
		}
	}
}
