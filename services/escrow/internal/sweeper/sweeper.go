package sweeper

import (
	"context"
	"log/slog"
	"time"
)

// Expirer is the sweep entry point; *service.EscrowService satisfies it.
type Expirer interface {
	ExpireOverdueTrades(ctx context.Context, now time.Time, limit int) (int, error)
}

// Sweeper periodically expires PENDING trades whose payment deadline has
// passed. Failures are logged and the next tick retries; the sweep itself
// re-checks every candidate under a row lock.
type Sweeper struct {
	expirer   Expirer
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

func New(expirer Expirer, interval time.Duration, batchSize int, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		expirer:   expirer,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run blocks until ctx is cancelled. One pass runs immediately so a restart
// does not wait a full interval to pick up overdue trades.
func (s *Sweeper) Run(ctx context.Context) {
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	count, err := s.expirer.ExpireOverdueTrades(sweepCtx, time.Now().UTC(), s.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("expiry sweep failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("expiry sweep completed", "expired", count)
	}
}
