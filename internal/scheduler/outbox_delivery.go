package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"funnel_builder_backend/internal/outbox"
	"funnel_builder_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	defaultOutboxMaxAttempts = 5
	outboxRetryBase          = 30 * time.Second
	outboxRetryCap           = time.Hour
)

var errMessengerMissing = errors.New("direct messenger not configured")

// OutboxStore is the slice of the outbox repository a delivery needs.
type OutboxStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (outbox.Record, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	MarkSucceeded(ctx context.Context, id uuid.UUID) error
	MarkPending(ctx context.Context, id uuid.UUID, lastError *string, runAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error
}

// DirectMessenger sends a Whop DM.
type DirectMessenger interface {
	SendDirectMessage(ctx context.Context, experienceID, userID, text string) error
}

// OutboxDelivery retries hand-off DMs that failed inline.
type OutboxDelivery struct {
	store       OutboxStore
	messenger   DirectMessenger
	maxAttempts int
	log         *logger.Logger
	now         func() time.Time
}

func NewOutboxDelivery(store OutboxStore, messenger DirectMessenger, maxAttempts int, log *logger.Logger) *OutboxDelivery {
	if maxAttempts < 1 {
		maxAttempts = defaultOutboxMaxAttempts
	}
	if log == nil {
		log = logger.Discard()
	}
	return &OutboxDelivery{
		store:       store,
		messenger:   messenger,
		maxAttempts: maxAttempts,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// retryDelay doubles from outboxRetryBase per attempt, capped at outboxRetryCap.
func retryDelay(attempt int) time.Duration {
	d := outboxRetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= outboxRetryCap {
			return outboxRetryCap
		}
	}
	return d
}

// Deliver sends one outbox row. Send failures are recorded on the row and
// rescheduled; only bookkeeping failures are returned.
func (d *OutboxDelivery) Deliver(ctx context.Context, id uuid.UUID) error {
	rec, err := d.store.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load outbox %s: %w", id, err)
	}
	if rec.Status == outbox.StatusSucceeded || rec.Status == outbox.StatusFailed {
		return nil
	}

	if rec.Kind != outbox.KindHandoffDM {
		return d.store.MarkFailed(ctx, id, "unsupported outbox kind "+rec.Kind)
	}

	if err := d.store.MarkProcessing(ctx, id); err != nil {
		return err
	}
	attempt := rec.Attempts + 1

	sendErr := errMessengerMissing
	if d.messenger != nil {
		sendErr = d.messenger.SendDirectMessage(ctx, rec.ExperienceID, rec.WhopUserID, rec.Content)
	}
	if sendErr == nil {
		d.log.Info("outbox: hand-off dm delivered", "outbox_id", id.String(), "attempt", attempt)
		return d.store.MarkSucceeded(ctx, id)
	}

	msg := sendErr.Error()
	if attempt >= d.maxAttempts {
		d.log.Error("outbox: hand-off dm abandoned", "outbox_id", id.String(), "attempts", attempt, "error", sendErr)
		return d.store.MarkFailed(ctx, id, msg)
	}
	d.log.Warn("outbox: hand-off dm failed, retrying", "outbox_id", id.String(), "attempt", attempt, "error", sendErr)
	return d.store.MarkPending(ctx, id, &msg, d.now().Add(retryDelay(attempt)))
}
