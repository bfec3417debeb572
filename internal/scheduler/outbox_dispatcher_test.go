package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"funnel_builder_backend/internal/outbox"
	"funnel_builder_backend/platform/logger"

	"github.com/google/uuid"
)

type claimQueue struct {
	records  []outbox.Record
	repended map[uuid.UUID]string
}

func (q *claimQueue) ClaimPending(_ context.Context, limit int) ([]outbox.Record, error) {
	if limit > len(q.records) {
		limit = len(q.records)
	}
	out := q.records[:limit]
	q.records = q.records[limit:]
	return out, nil
}

func (q *claimQueue) MarkPending(_ context.Context, id uuid.UUID, lastError *string, _ time.Time) error {
	q.repended[id] = *lastError
	return nil
}

type flakyEnqueuer struct {
	failFor  uuid.UUID
	enqueued []DMOutboxDuePayload
}

func (e *flakyEnqueuer) EnqueueDMOutboxDue(_ context.Context, p DMOutboxDuePayload, _ time.Time) error {
	if p.OutboxID == e.failFor.String() {
		return errors.New("redis unavailable")
	}
	e.enqueued = append(e.enqueued, p)
	return nil
}

func TestDispatchEnqueuesClaimedRows(t *testing.T) {
	ok := newRecord(0)
	bad := newRecord(0)
	q := &claimQueue{records: []outbox.Record{ok, bad}, repended: map[uuid.UUID]string{}}
	enq := &flakyEnqueuer{failFor: bad.ID}

	NewDMOutboxDispatcher(enq, q, time.Second, logger.Discard()).dispatch(context.Background())

	if len(enq.enqueued) != 1 || enq.enqueued[0].OutboxID != ok.ID.String() || enq.enqueued[0].ExperienceID != "exp_1" {
		t.Fatalf("unexpected enqueued payloads %+v", enq.enqueued)
	}
	if q.repended[bad.ID] != "redis unavailable" {
		t.Fatalf("failed enqueue should return the row to pending, got %v", q.repended)
	}
}

func TestDMOutboxDueTaskRoundTrip(t *testing.T) {
	task, err := NewDMOutboxDueTask(DMOutboxDuePayload{OutboxID: "abc", ExperienceID: "exp_1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.Type() != TaskDMOutboxDue {
		t.Fatalf("unexpected task type %s", task.Type())
	}
	p, err := ParseDMOutboxDuePayload(task)
	if err != nil || p.OutboxID != "abc" {
		t.Fatalf("unexpected payload %+v (err=%v)", p, err)
	}
}
