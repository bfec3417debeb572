package scheduler

import (
	"context"
	"time"

	"funnel_builder_backend/internal/outbox"
	"funnel_builder_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	defaultOutboxPollInterval = 2 * time.Second
	outboxClaimBatch          = 50
)

// OutboxClaimer hands out due outbox rows exactly once.
type OutboxClaimer interface {
	ClaimPending(ctx context.Context, limit int) ([]outbox.Record, error)
	MarkPending(ctx context.Context, id uuid.UUID, lastError *string, runAt time.Time) error
}

// OutboxEnqueuer hands a claimed row to the worker queue.
type OutboxEnqueuer interface {
	EnqueueDMOutboxDue(ctx context.Context, payload DMOutboxDuePayload, runAt time.Time) error
}

// DMOutboxDispatcher polls dm_outbox and enqueues due rows on asynq.
type DMOutboxDispatcher struct {
	client   OutboxEnqueuer
	repo     OutboxClaimer
	log      *logger.Logger
	interval time.Duration
}

func NewDMOutboxDispatcher(client OutboxEnqueuer, repo OutboxClaimer, interval time.Duration, log *logger.Logger) *DMOutboxDispatcher {
	if interval <= 0 {
		interval = defaultOutboxPollInterval
	}
	return &DMOutboxDispatcher{client: client, repo: repo, log: log, interval: interval}
}

func (d *DMOutboxDispatcher) Run(ctx context.Context) {
	if d == nil || d.client == nil || d.repo == nil {
		return
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		d.dispatch(ctx)
	}
}

func (d *DMOutboxDispatcher) dispatch(ctx context.Context) {
	records, err := d.repo.ClaimPending(ctx, outboxClaimBatch)
	if err != nil {
		d.log.Warn("outbox claim failed", "error", err)
		return
	}

	for _, rec := range records {
		err := d.client.EnqueueDMOutboxDue(ctx, DMOutboxDuePayload{
			OutboxID:     rec.ID.String(),
			ExperienceID: rec.ExperienceID,
		}, rec.RunAt)
		if err != nil {
			msg := err.Error()
			_ = d.repo.MarkPending(ctx, rec.ID, &msg, time.Now().UTC().Add(d.interval))
		}
	}
}
