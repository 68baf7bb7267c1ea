package idempotency

import (
	"context"
	"log/slog"
	"time"

	"github.com/cardledger/cardledger/internal/clock"
	"github.com/cardledger/cardledger/internal/metrics"
	"github.com/cardledger/cardledger/internal/store"
)

// Sweeper periodically deletes expired idempotency records.
type Sweeper struct {
	uow      store.UnitOfWork
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper builds a sweeper running every interval.
func NewSweeper(uow store.UnitOfWork, clk clock.Clock, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Sweeper{uow: uow, clock: clk, interval: interval, logger: logger}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("idempotency sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce purges every record expired at the current time.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	var purged int64
	err := s.uow.Do(ctx, func(tx store.Tx) error {
		n, err := tx.Idempotency().PurgeExpired(ctx, s.clock.Now())
		purged = n
		return err
	})
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		metrics.IdempotencyPurged.Add(float64(purged))
		s.logger.Info("purged expired idempotency records", "count", purged)
	}
	return purged, nil
}
