package service

import (
	"context"
	"time"

	"shortlink/pkg/logging"
	"shortlink/pkg/storage"
)

// Reaper periodically releases expired codes so they can be reused sooner.
// Resolution does not depend on it: expiry is always enforced at read time.
type Reaper struct {
	storage  storage.LinkStorage
	logger   *logging.Logger
	interval time.Duration
}

func NewReaper(store storage.LinkStorage, logger *logging.Logger, interval time.Duration) *Reaper {
	return &Reaper{storage: store, logger: logger, interval: interval}
}

// Run sweeps until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.storage.ReleaseExpired(ctx, time.Now().UTC())
			if err != nil {
				r.logger.Error(ctx, "reaper sweep failed", "error", err)
				continue
			}
			if n > 0 {
				r.logger.Info(ctx, "released expired links", "count", n)
			}
		}
	}
}
