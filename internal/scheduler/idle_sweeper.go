package scheduler

import (
	"context"
	"time"

	"funnel_builder_backend/platform/logger"
)

const (
	defaultIdleSweepInterval = 5 * time.Minute
	defaultIdleTimeout       = 24 * time.Hour
	idleSweepBatch           = 200
)

// IdleAbandoner abandons conversations with no activity for idleFor.
type IdleAbandoner interface {
	SweepIdle(ctx context.Context, idleFor time.Duration, limit int) (int, error)
}

// IdleSweeper periodically abandons stale active conversations.
type IdleSweeper struct {
	conversations IdleAbandoner
	log           *logger.Logger
	interval      time.Duration
	idleFor       time.Duration
}

func NewIdleSweeper(conversations IdleAbandoner, log *logger.Logger, interval, idleFor time.Duration) *IdleSweeper {
	if interval <= 0 {
		interval = defaultIdleSweepInterval
	}
	if idleFor <= 0 {
		idleFor = defaultIdleTimeout
	}
	return &IdleSweeper{
		conversations: conversations,
		log:           log,
		interval:      interval,
		idleFor:       idleFor,
	}
}

func (s *IdleSweeper) Run(ctx context.Context) {
	if s == nil || s.conversations == nil {
		return
	}

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

// sweep drains idle conversations in batches until a short batch.
func (s *IdleSweeper) sweep(ctx context.Context) int {
	total := 0
	for {
		n, err := s.conversations.SweepIdle(ctx, s.idleFor, idleSweepBatch)
		if err != nil {
			s.log.Warn("idle conversation sweep failed", "error", err)
			return total
		}
		total += n
		if n < idleSweepBatch || ctx.Err() != nil {
			break
		}
	}
	if total > 0 {
		s.log.Info("idle conversation sweep abandoned conversations", "abandoned", total)
	}
	return total
}
