package transition

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"funnel_builder_backend/internal/conversation/conversationtest"
	"funnel_builder_backend/internal/conversation/repository"
	"funnel_builder_backend/internal/events"
	"funnel_builder_backend/internal/funnel/domain"
	"funnel_builder_backend/internal/outbox"
	"funnel_builder_backend/platform/apperr"
	"funnel_builder_backend/platform/logger"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

const dmFlow = `{
  "startBlockId": "welcome",
  "stages": [
    {"id": "s1", "name": "WELCOME", "blockIds": ["welcome"]},
    {"id": "s2", "name": "VALUE_DELIVERY", "blockIds": ["value"]},
    {"id": "s3", "name": "EXPERIENCE_QUALIFICATION", "blockIds": ["level"]},
    {"id": "s4", "name": "TRANSITION", "blockIds": ["handoff"]}
  ],
  "blocks": {
    "welcome": {"id": "welcome", "message": "Welcome!", "options": [{"text": "Show me", "nextBlockId": "value"}]},
    "value": {"id": "value", "message": "Pick a guide", "options": [{"text": "Scaling guide", "nextBlockId": "level"}]},
    "level": {"id": "level", "message": "Your level?", "options": [
      {"text": "Intermediate", "nextBlockId": "handoff"},
      {"text": "Advanced", "nextBlockId": "handoff"}
    ]},
    "handoff": {"id": "handoff", "message": "Moving you over", "options": []}
  }
}`

const noQualificationFlow = `{
  "startBlockId": "a",
  "stages": [{"id": "s1", "name": "WELCOME", "blockIds": ["a"]}],
  "blocks": {"a": {"id": "a", "message": "Hi", "options": []}}
}`

type fakeMessenger struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (m *fakeMessenger) SendDirectMessage(_ context.Context, _, _, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, text)
	return nil
}

type fakeOutbox struct {
	rows []outbox.InsertParams
}

func (o *fakeOutbox) Insert(_ context.Context, p outbox.InsertParams) (uuid.UUID, error) {
	o.rows = append(o.rows, p)
	return uuid.New(), nil
}

type fakeFunnels map[uuid.UUID]domain.Funnel

func (f fakeFunnels) GetFunnel(_ context.Context, _ string, id uuid.UUID) (domain.Funnel, error) {
	fn, ok := f[id]
	if !ok {
		return domain.Funnel{}, apperr.NotFound("funnel not found")
	}
	return fn, nil
}

func parseFunnel(t *testing.T, doc string) domain.Funnel {
	t.Helper()
	flow, err := domain.ParseFlow([]byte(doc))
	if err != nil {
		t.Fatalf("parse flow: %v", err)
	}
	return domain.Funnel{ID: uuid.New(), ExperienceID: "exp_1", Flow: flow, IsDeployed: true}
}

// seedDM builds a DM conversation that walked welcome -> value -> level -> handoff.
func seedDM(t *testing.T, store *conversationtest.Store, funnel domain.Funnel) repository.Conversation {
	t.Helper()
	ctx := context.Background()
	conv, err := store.InsertConversation(ctx, repository.CreateConversationParams{
		ExperienceID:   "exp_1",
		WhopUserID:     "user_1",
		FunnelID:       funnel.ID,
		CurrentBlockID: "handoff",
		UserPath:       []string{"welcome", "value", "level", "handoff"},
		Metadata:       repository.Metadata{Type: repository.KindDM, Phase: repository.PhaseWelcome},
	})
	if err != nil {
		t.Fatalf("seed conversation: %v", err)
	}

	turns := []struct {
		block, bot, reply string
		next              string
	}{
		{"welcome", "Welcome!", "Show me", "value"},
		{"value", "Pick a guide", "Scaling guide", "level"},
		{"level", "Your level?", "Advanced", "handoff"},
	}
	for _, turn := range turns {
		_, _ = store.InsertMessage(ctx, repository.MessageParams{
			ConversationID: conv.ID, Type: repository.MessageBot, Content: turn.bot,
			Metadata: &repository.MessageMetadata{BlockID: turn.block},
		})
		_, _ = store.InsertMessage(ctx, repository.MessageParams{
			ConversationID: conv.ID, Type: repository.MessageUser, Content: turn.reply,
		})
		next := turn.next
		_, _ = store.InsertInteraction(ctx, repository.InteractionParams{
			ConversationID: conv.ID, BlockID: turn.block, OptionText: turn.reply, NextBlockID: &next,
		})
	}
	_, _ = store.InsertMessage(ctx, repository.MessageParams{
		ConversationID: conv.ID, Type: repository.MessageBot, Content: "Moving you over",
		Metadata: &repository.MessageMetadata{BlockID: "handoff"},
	})
	return conv
}

const testTemplate = "Hey [USERNAME], as a [EXPERIENCE_LEVEL] member you picked [SELECTED_VALUE]. Continue: [LINK]"

func newEngine(store *conversationtest.Store, funnels fakeFunnels, m DirectMessenger, opts ...Option) *Engine {
	return NewEngine(store, funnels, m, nil, logger.Discard(), "https://app.example.com/", testTemplate, opts...)
}

type copiedMessage struct {
	Type        repository.MessageType
	Content     string
	OriginalID  uuid.UUID
	IsDMHistory bool
}

func TestTransitionCopiesHistoryVerbatim(t *testing.T) {
	ctx := context.Background()
	store := conversationtest.New()
	funnel := parseFunnel(t, dmFlow)
	dm := seedDM(t, store, funnel)
	original, _ := store.ListMessages(ctx, dm.ID)

	engine := newEngine(store, fakeFunnels{funnel.ID: funnel}, &fakeMessenger{})
	res, err := engine.Transition(ctx, dm.ID, funnel, Input{Username: "sam"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.CopiedMessages != len(original) {
		t.Fatalf("expected %d copied messages, got %d", len(original), res.CopiedMessages)
	}

	copied, _ := store.ListMessages(ctx, res.InternalConversationID)
	if len(copied) != len(original)+1 {
		t.Fatalf("expected history plus one bot message, got %d", len(copied))
	}

	want := make([]copiedMessage, 0, len(original))
	for _, m := range original {
		want = append(want, copiedMessage{Type: m.Type, Content: m.Content, OriginalID: m.ID, IsDMHistory: true})
	}
	got := make([]copiedMessage, 0, len(original))
	for _, m := range copied[:len(original)] {
		if m.Metadata == nil || m.Metadata.OriginalMessageID == nil {
			t.Fatalf("copied message %s lacks provenance", m.ID)
		}
		got = append(got, copiedMessage{
			Type: m.Type, Content: m.Content,
			OriginalID: *m.Metadata.OriginalMessageID, IsDMHistory: m.Metadata.IsDMHistory,
		})
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("copied history mismatch (-want +got):\n%s", diff)
	}

	first := copied[len(copied)-1]
	wantFirst := "Your level?\n\n1. Intermediate\n2. Advanced"
	if first.Type != repository.MessageBot || first.Content != wantFirst {
		t.Fatalf("unexpected first internal message %q", first.Content)
	}
}

func TestTransitionCompletesAndAnnotatesSource(t *testing.T) {
	ctx := context.Background()
	store := conversationtest.New()
	funnel := parseFunnel(t, dmFlow)
	dm := seedDM(t, store, funnel)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	engine := newEngine(store, fakeFunnels{funnel.ID: funnel}, &fakeMessenger{}, WithClock(func() time.Time { return at }))
	res, err := engine.Transition(ctx, dm.ID, funnel, Input{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	src, _ := store.GetConversation(ctx, dm.ID)
	if src.Status != repository.StatusCompleted {
		t.Fatalf("expected source completed, got %s", src.Status)
	}
	if src.Metadata.InternalConversationID == nil || *src.Metadata.InternalConversationID != res.InternalConversationID {
		t.Fatalf("source not annotated with internal conversation: %+v", src.Metadata)
	}
	if src.Metadata.TransitionedAt == nil || !src.Metadata.TransitionedAt.Equal(at) {
		t.Fatalf("unexpected transitionedAt: %v", src.Metadata.TransitionedAt)
	}

	internal, _ := store.GetConversation(ctx, res.InternalConversationID)
	wantMD := repository.Metadata{
		Type:             repository.KindInternal,
		Phase:            repository.PhaseStrategySession,
		DMConversationID: &dm.ID,
		CreatedFromDM:    true,
	}
	if diff := cmp.Diff(wantMD, internal.Metadata); diff != "" {
		t.Fatalf("internal metadata mismatch (-want +got):\n%s", diff)
	}
	if internal.Status != repository.StatusActive || internal.CurrentBlockID != "level" {
		t.Fatalf("internal conversation should start active at level, got %+v", internal)
	}
	if n := store.ActiveCount("exp_1", "user_1"); n != 1 {
		t.Fatalf("expected one active conversation after transition, got %d", n)
	}
}

func TestTransitionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := conversationtest.New()
	funnel := parseFunnel(t, dmFlow)
	dm := seedDM(t, store, funnel)
	messenger := &fakeMessenger{}
	engine := newEngine(store, fakeFunnels{funnel.ID: funnel}, messenger)

	first, err := engine.Transition(ctx, dm.ID, funnel, Input{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := engine.Transition(ctx, dm.ID, funnel, Input{})
	if err != nil {
		t.Fatalf("unexpected error on repeat: %v", err)
	}
	if !second.AlreadyTransitioned || second.InternalConversationID != first.InternalConversationID {
		t.Fatalf("repeat should return the existing conversation, got %+v", second)
	}
	if len(store.Conversations()) != 2 {
		t.Fatalf("expected exactly two conversations, got %d", len(store.Conversations()))
	}
	if len(messenger.sent) != 1 {
		t.Fatalf("hand-off DM should be sent once, got %d", len(messenger.sent))
	}
}

func TestTransitionRequiresQualificationStage(t *testing.T) {
	ctx := context.Background()
	store := conversationtest.New()
	source := parseFunnel(t, dmFlow)
	target := parseFunnel(t, noQualificationFlow)
	dm := seedDM(t, store, source)

	engine := newEngine(store, fakeFunnels{source.ID: source, target.ID: target}, &fakeMessenger{})
	_, err := engine.Transition(ctx, dm.ID, target, Input{})
	if !errors.Is(err, ErrMissingQualificationStage) {
		t.Fatalf("expected ErrMissingQualificationStage, got %v", err)
	}
	if !apperr.HasReason(err, apperr.ReasonPreconditionFailed) || apperr.GetKind(err) != apperr.KindInternal {
		t.Fatalf("expected internal precondition_failed, got %v", err)
	}

	src, _ := store.GetConversation(ctx, dm.ID)
	if src.Status != repository.StatusActive || src.Metadata.InternalConversationID != nil {
		t.Fatalf("source must be untouched, got %+v", src)
	}
	if len(store.Conversations()) != 1 {
		t.Fatal("no internal conversation should exist")
	}
}

func TestTransitionRendersHandoffFromSourceSelections(t *testing.T) {
	ctx := context.Background()
	store := conversationtest.New()
	funnel := parseFunnel(t, dmFlow)
	dm := seedDM(t, store, funnel)
	messenger := &fakeMessenger{}

	engine := newEngine(store, fakeFunnels{funnel.ID: funnel}, messenger)
	res, err := engine.Transition(ctx, dm.ID, funnel, Input{Username: "sam"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "Hey sam, as a Advanced member you picked Scaling guide. Continue: " +
		"https://app.example.com/experiences/exp_1/conversations/" + res.InternalConversationID.String()
	if res.HandoffMessage != want {
		t.Fatalf("unexpected hand-off:\n%q\nwant\n%q", res.HandoffMessage, want)
	}
	if !res.HandoffSent || len(messenger.sent) != 1 || messenger.sent[0] != want {
		t.Fatalf("expected hand-off to be sent, got %+v", messenger.sent)
	}
}

func TestTransitionSendFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	store := conversationtest.New()
	funnel := parseFunnel(t, dmFlow)
	dm := seedDM(t, store, funnel)
	box := &fakeOutbox{}
	bus := events.NewInMemoryBus(logger.Discard())
	var failed []events.HandoffDMFailed
	var mu sync.Mutex
	bus.Subscribe("conversation.handoff_dm_failed", events.HandlerFunc(func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, e.(events.HandoffDMFailed))
		return nil
	}))

	engine := NewEngine(store, fakeFunnels{funnel.ID: funnel}, &fakeMessenger{err: errors.New("dm closed")}, bus,
		logger.Discard(), "https://app.example.com", testTemplate, WithOutbox(box))
	res, err := engine.Transition(ctx, dm.ID, funnel, Input{})
	bus.Wait()
	if err != nil {
		t.Fatalf("send failure must not fail the transition, got %v", err)
	}
	if res.HandoffSent || res.OutboxID == nil {
		t.Fatalf("expected queued retry, got %+v", res)
	}
	if len(box.rows) != 1 || box.rows[0].Kind != outbox.KindHandoffDM || box.rows[0].Content != res.HandoffMessage {
		t.Fatalf("unexpected outbox rows %+v", box.rows)
	}
	if len(failed) != 1 || failed[0].Error != "dm closed" {
		t.Fatalf("expected one handoff_dm_failed event, got %+v", failed)
	}

	src, _ := store.GetConversation(ctx, dm.ID)
	if src.Status != repository.StatusCompleted {
		t.Fatalf("transition should stand, got source status %s", src.Status)
	}
}

func TestRenderHandoffDefaults(t *testing.T) {
	got := RenderHandoff("Hi [USERNAME] [EXPERIENCE_LEVEL][SELECTED_VALUE]-> [LINK]", HandoffValues{Link: "L"})
	if got != "Hi there -> L" {
		t.Fatalf("unexpected rendering %q", got)
	}
}

func TestTransitionRefusesInternalConversation(t *testing.T) {
	ctx := context.Background()
	store := conversationtest.New()
	funnel := parseFunnel(t, dmFlow)
	dm := seedDM(t, store, funnel)
	engine := newEngine(store, fakeFunnels{funnel.ID: funnel}, &fakeMessenger{})

	res, err := engine.Transition(ctx, dm.ID, funnel, Input{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = engine.Transition(ctx, res.InternalConversationID, funnel, Input{})
	if !errors.Is(err, ErrNotDMConversation) || !apperr.HasReason(err, apperr.ReasonPreconditionFailed) {
		t.Fatalf("expected internal conversation to be refused, got %v", err)
	}
	if n := len(store.Conversations()); n != 2 {
		t.Fatalf("no conversation should be created for an internal source, got %d", n)
	}
	internal, _ := store.GetConversation(ctx, res.InternalConversationID)
	if internal.Status != repository.StatusActive {
		t.Fatalf("internal conversation must stay active, got %s", internal.Status)
	}
}
