package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// Cleaner periodically sweeps a limiter until its context ends.
type Cleaner struct {
	sweeper  Sweeper
	log      *slog.Logger
	interval time.Duration
}

// NewCleaner constructs a Cleaner instance.
func NewCleaner(sweeper Sweeper, log *slog.Logger, interval time.Duration) *Cleaner {
	if log == nil {
		log = slog.Default()
	}

	return &Cleaner{
		sweeper:  sweeper,
		log:      log,
		interval: interval,
	}
}

// Run starts the cleaner loop until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	if c.sweeper == nil || c.interval <= 0 {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("rate limit cleaner stopped", slog.String("reason", ctx.Err().Error()))
			return
		case <-ticker.C:
			removed, err := c.sweeper.Sweep(ctx)
			if err != nil {
				c.log.Error("rate limit sweep failed", slog.Any("error", err))
				continue
			}
			if removed > 0 {
				c.log.Debug("rate limit keys cleaned", slog.Int("keys_removed", removed))
			}
		}
	}
}
