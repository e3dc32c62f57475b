package service

import (
	"context"
	"time"

	"github.com/iliyamo/studyhall-marketplace/internal/model"
	"github.com/iliyamo/studyhall-marketplace/internal/monitoring"
	"github.com/iliyamo/studyhall-marketplace/internal/payment"
	"go.uber.org/zap"
)

// PollConfig schedules the status poller.  The next check of an attempt
// is due Interval + attempts*BackoffStep after the previous one; after
// MaxAttempts checks without an outcome the attempt times out.  Attempts
// closed because their booking expired or was cancelled are still checked
// for LateGrace after they were created so a late payment is recorded.
type PollConfig struct {
	Interval    time.Duration
	BackoffStep time.Duration
	MaxAttempts int
	BatchSize   int
	LateGrace   time.Duration
}

// Poller asks polled rails (EKQR) for the outcome of pending attempts.
type Poller struct {
	payments *PaymentService
	checker  payment.StatusChecker
	method   string
	cfg      PollConfig
	log      *zap.Logger
	now      func() time.Time
}

// NewPoller returns a poller for the provider registered under method, or
// nil when that provider is disabled or cannot be polled.
func NewPoller(payments *PaymentService, registry *payment.Registry, method string, cfg PollConfig, log *zap.Logger) *Poller {
	p, err := registry.Get(method)
	if err != nil {
		return nil
	}
	checker, ok := p.(payment.StatusChecker)
	if !ok {
		return nil
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 50
	}
	if cfg.LateGrace < 0 {
		cfg.LateGrace = 0
	}
	return &Poller{payments: payments, checker: checker, method: method, cfg: cfg, log: log, now: time.Now}
}

// Run polls every Interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	t := time.NewTicker(p.cfg.Interval)
	defer t.Stop()
	p.log.Info("payment poller started", zap.String("method", p.method), zap.Duration("interval", p.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := p.PollOnce(ctx); err != nil {
				p.log.Error("payment poll failed", zap.Error(err))
			}
		}
	}
}

// PollOnce checks every attempt that is due and returns how many were
// finalised.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	repo := p.payments.repos.Transactions
	now := p.now().UTC()
	due, err := repo.ListDueForPoll(ctx, p.method, now, now.Add(-p.cfg.LateGrace), p.cfg.Interval, p.cfg.BackoffStep, p.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, t := range due {
		if ctx.Err() != nil {
			break
		}
		if p.pollOne(ctx, t) {
			done++
		}
	}
	return done, nil
}

func (p *Poller) pollOne(ctx context.Context, t model.Transaction) bool {
	log := p.log.With(zap.Uint64("transaction_id", t.ID), zap.String("order_id", t.ProviderOrderID))
	attempts, err := p.payments.repos.Transactions.RecordPoll(ctx, t.ID, p.now().UTC())
	if err != nil {
		log.Error("record poll failed", zap.Error(err))
		return false
	}

	st := payment.Status{Outcome: payment.OutcomePending}
	if t.ProviderOrderID != "" {
		st, err = p.checker.CheckStatus(ctx, t.ProviderOrderID, t.CreatedAt)
		if err != nil {
			monitoring.TrackPoll("error")
			log.Warn("status check failed", zap.Int("attempt", attempts), zap.Error(err))
			st = payment.Status{Outcome: payment.OutcomePending}
		}
	}

	if t.IsTerminal() && st.Outcome != payment.OutcomeSuccess {
		// closed attempts are only watched for a late capture
		monitoring.TrackPoll("late_" + string(st.Outcome))
		return false
	}
	if st.Outcome == payment.OutcomePending {
		if attempts < p.cfg.MaxAttempts {
			monitoring.TrackPoll("pending")
			return false
		}
		monitoring.TrackPoll("timeout")
		if _, err := p.payments.Timeout(ctx, t.ID); err != nil {
			log.Error("timeout attempt failed", zap.Error(err))
			return false
		}
		log.Info("payment attempt timed out", zap.Int("attempts", attempts))
		return true
	}

	monitoring.TrackPoll(string(st.Outcome))
	if _, err := p.payments.Complete(ctx, t.ID, st, nil); err != nil {
		log.Error("apply polled outcome failed", zap.Error(err))
		return false
	}
	return true
}
