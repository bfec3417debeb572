package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"funnel_builder_backend/platform/logger"
)

type batchAbandoner struct {
	batches []int
	calls   int
	idleFor time.Duration
	err     error
}

func (b *batchAbandoner) SweepIdle(_ context.Context, idleFor time.Duration, _ int) (int, error) {
	b.idleFor = idleFor
	if b.err != nil {
		return 0, b.err
	}
	if b.calls >= len(b.batches) {
		return 0, nil
	}
	n := b.batches[b.calls]
	b.calls++
	return n, nil
}

func TestIdleSweeperDrainsFullBatches(t *testing.T) {
	fake := &batchAbandoner{batches: []int{idleSweepBatch, idleSweepBatch, 7}}
	s := NewIdleSweeper(fake, logger.Discard(), time.Minute, 2*time.Hour)

	if got := s.sweep(context.Background()); got != 2*idleSweepBatch+7 {
		t.Fatalf("unexpected total %d", got)
	}
	if fake.calls != 3 {
		t.Fatalf("expected 3 batches, got %d", fake.calls)
	}
	if fake.idleFor != 2*time.Hour {
		t.Fatalf("idle timeout not forwarded, got %v", fake.idleFor)
	}
}

func TestIdleSweeperStopsOnError(t *testing.T) {
	fake := &batchAbandoner{err: errors.New("db down")}
	s := NewIdleSweeper(fake, logger.Discard(), 0, 0)

	if got := s.sweep(context.Background()); got != 0 {
		t.Fatalf("expected 0 on error, got %d", got)
	}
	if s.idleFor != defaultIdleTimeout || s.interval != defaultIdleSweepInterval {
		t.Fatal("zero durations should fall back to defaults")
	}
}
