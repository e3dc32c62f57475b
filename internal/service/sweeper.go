package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically expires unpaid bookings and completes finished
// ones.
type Sweeper struct {
	bookings *BookingService
	interval time.Duration
	log      *zap.Logger
}

func NewSweeper(bookings *BookingService, interval time.Duration, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{bookings: bookings, interval: interval, log: log}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		s.SweepOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// SweepOnce runs both sweeps, logging failures.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	if n, err := s.bookings.ExpireOverdue(ctx); err != nil {
		s.log.Error("expiry sweep failed", zap.Error(err))
	} else if n > 0 {
		s.log.Info("expired unpaid bookings", zap.Int("count", n))
	}
	if n, err := s.bookings.CompleteFinished(ctx); err != nil {
		s.log.Error("completion sweep failed", zap.Error(err))
	} else if n > 0 {
		s.log.Info("completed finished bookings", zap.Int64("count", n))
	}
}
