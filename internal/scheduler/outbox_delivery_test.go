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

type memoryOutbox struct {
	rec       outbox.Record
	lastError string
	runAt     time.Time
}

func (m *memoryOutbox) GetByID(_ context.Context, id uuid.UUID) (outbox.Record, error) {
	if id != m.rec.ID {
		return outbox.Record{}, errors.New("not found")
	}
	return m.rec, nil
}

func (m *memoryOutbox) MarkProcessing(_ context.Context, _ uuid.UUID) error {
	m.rec.Status = outbox.StatusProcessing
	m.rec.Attempts++
	return nil
}

func (m *memoryOutbox) MarkSucceeded(_ context.Context, _ uuid.UUID) error {
	m.rec.Status = outbox.StatusSucceeded
	return nil
}

func (m *memoryOutbox) MarkPending(_ context.Context, _ uuid.UUID, lastError *string, runAt time.Time) error {
	m.rec.Status = outbox.StatusPending
	if lastError != nil {
		m.lastError = *lastError
	}
	m.runAt = runAt
	return nil
}

func (m *memoryOutbox) MarkFailed(_ context.Context, _ uuid.UUID, lastError string) error {
	m.rec.Status = outbox.StatusFailed
	m.lastError = lastError
	return nil
}

type stubMessenger struct {
	err  error
	sent []string
}

func (s *stubMessenger) SendDirectMessage(_ context.Context, _, userID, text string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, userID+":"+text)
	return nil
}

func newRecord(attempts int) outbox.Record {
	return outbox.Record{
		ID:           uuid.New(),
		ExperienceID: "exp_1",
		WhopUserID:   "user_1",
		Kind:         outbox.KindHandoffDM,
		Content:      "Continue here",
		Status:       outbox.StatusEnqueued,
		Attempts:     attempts,
	}
}

func TestDeliverSendsAndMarksSucceeded(t *testing.T) {
	store := &memoryOutbox{rec: newRecord(0)}
	messenger := &stubMessenger{}
	d := NewOutboxDelivery(store, messenger, 3, logger.Discard())

	if err := d.Deliver(context.Background(), store.rec.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.rec.Status != outbox.StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", store.rec.Status)
	}
	if len(messenger.sent) != 1 || messenger.sent[0] != "user_1:Continue here" {
		t.Fatalf("unexpected sends %v", messenger.sent)
	}
}

func TestDeliverReschedulesWithBackoff(t *testing.T) {
	store := &memoryOutbox{rec: newRecord(1)}
	d := NewOutboxDelivery(store, &stubMessenger{err: errors.New("whop 503")}, 5, logger.Discard())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	if err := d.Deliver(context.Background(), store.rec.ID); err != nil {
		t.Fatalf("send failure should not be returned: %v", err)
	}
	if store.rec.Status != outbox.StatusPending || store.lastError != "whop 503" {
		t.Fatalf("expected pending with error, got %s %q", store.rec.Status, store.lastError)
	}
	if want := now.Add(time.Minute); !store.runAt.Equal(want) {
		t.Fatalf("second attempt should back off one minute, got %v", store.runAt.Sub(now))
	}
}

func TestDeliverGivesUpAfterMaxAttempts(t *testing.T) {
	store := &memoryOutbox{rec: newRecord(2)}
	d := NewOutboxDelivery(store, &stubMessenger{err: errors.New("boom")}, 3, logger.Discard())

	if err := d.Deliver(context.Background(), store.rec.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.rec.Status != outbox.StatusFailed {
		t.Fatalf("expected failed after max attempts, got %s", store.rec.Status)
	}
}

func TestDeliverSkipsFinishedAndUnknownRows(t *testing.T) {
	done := newRecord(1)
	done.Status = outbox.StatusSucceeded
	store := &memoryOutbox{rec: done}
	messenger := &stubMessenger{}
	d := NewOutboxDelivery(store, messenger, 3, logger.Discard())

	if err := d.Deliver(context.Background(), done.ID); err != nil || len(messenger.sent) != 0 {
		t.Fatalf("finished row must not be resent (err=%v sent=%v)", err, messenger.sent)
	}

	odd := newRecord(0)
	odd.Kind = "sms"
	store.rec = odd
	if err := d.Deliver(context.Background(), odd.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.rec.Status != outbox.StatusFailed {
		t.Fatalf("unknown kind should fail permanently, got %s", store.rec.Status)
	}
}

func TestDeliverWithoutMessengerRetries(t *testing.T) {
	store := &memoryOutbox{rec: newRecord(0)}
	d := NewOutboxDelivery(store, nil, 3, logger.Discard())

	if err := d.Deliver(context.Background(), store.rec.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.rec.Status != outbox.StatusPending || store.lastError != errMessengerMissing.Error() {
		t.Fatalf("expected pending retry, got %s %q", store.rec.Status, store.lastError)
	}
}

func TestRetryDelay(t *testing.T) {
	cases := map[int]time.Duration{
		1:  30 * time.Second,
		2:  time.Minute,
		3:  2 * time.Minute,
		20: time.Hour,
	}
	for attempt, want := range cases {
		if got := retryDelay(attempt); got != want {
			t.Fatalf("attempt %d: expected %v, got %v", attempt, want, got)
		}
	}
}
