package webhook

import (
	"context"
	"errors"
	"testing"

	"funnel_builder_backend/internal/orchestrator"
	"funnel_builder_backend/internal/resource/repository"
	"funnel_builder_backend/internal/trigger"
	"funnel_builder_backend/platform/apperr"
	"funnel_builder_backend/platform/logger"
)

type memoryDeduper struct {
	seen map[string]bool
	err  error
}

func (d *memoryDeduper) FirstDelivery(_ context.Context, deliveryID, experienceID, _ string) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	key := experienceID + "/" + deliveryID
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

type recordingMemberships struct {
	params []repository.UpsertMembershipParams
	err    error
}

func (r *recordingMemberships) RecordMembership(_ context.Context, p repository.UpsertMembershipParams) (repository.Membership, error) {
	r.params = append(r.params, p)
	return repository.Membership{}, r.err
}

type recordingHandler struct {
	events []orchestrator.Event
	result orchestrator.Result
}

func (h *recordingHandler) HandleEvent(_ context.Context, ev orchestrator.Event) orchestrator.Result {
	h.events = append(h.events, ev)
	return h.result
}

func activation(id string) Payload {
	return Payload{
		ID:     id,
		Action: ActionMembershipWentValid,
		Data:   MembershipData{ID: "mem_1", User: "user_1", Product: "prod_1"},
	}
}

func TestProcessDispatchesActivation(t *testing.T) {
	members := &recordingMemberships{}
	handler := &recordingHandler{result: orchestrator.Result{Outcome: orchestrator.OutcomeStarted}}
	svc := NewService(&memoryDeduper{seen: map[string]bool{}}, members, handler, logger.Discard())

	out := svc.Process(context.Background(), "exp_1", activation("evt_1"))
	if !out.Processed || out.Result == nil || out.Result.Outcome != orchestrator.OutcomeStarted {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(members.params) != 1 || members.params[0].Status != repository.MembershipValid {
		t.Fatalf("membership should be recorded as valid, got %+v", members.params)
	}
	ev := handler.events[0]
	if ev.Context != trigger.ContextMembershipActivated || ev.UserID != "user_1" || ev.ProductID != "prod_1" || ev.ExperienceID != "exp_1" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestProcessForwardsProductAndPlan(t *testing.T) {
	handler := &recordingHandler{result: orchestrator.Result{Outcome: orchestrator.OutcomeStarted}}
	svc := NewService(&memoryDeduper{seen: map[string]bool{}}, nil, handler, logger.Discard())

	p := activation("evt_plan")
	p.Data.Plan = "plan_9"
	_ = svc.Process(context.Background(), "exp_1", p)
	if len(handler.events) != 1 {
		t.Fatalf("expected one dispatched event, got %d", len(handler.events))
	}
	if ev := handler.events[0]; ev.ProductID != "prod_1" || ev.PlanID != "plan_9" {
		t.Fatalf("expected product and plan to be forwarded, got %+v", ev)
	}
}

func TestProcessSkipsDuplicateDelivery(t *testing.T) {
	handler := &recordingHandler{}
	svc := NewService(&memoryDeduper{seen: map[string]bool{}}, nil, handler, logger.Discard())

	_ = svc.Process(context.Background(), "exp_1", activation("evt_1"))
	out := svc.Process(context.Background(), "exp_1", activation("evt_1"))
	if out.Processed || out.Reason != apperr.ReasonDuplicateDelivery {
		t.Fatalf("expected duplicate_delivery, got %+v", out)
	}
	if len(handler.events) != 1 {
		t.Fatalf("duplicate must not reach the orchestrator, got %d events", len(handler.events))
	}
}

func TestProcessFailsOpenWhenDedupUnavailable(t *testing.T) {
	handler := &recordingHandler{}
	svc := NewService(&memoryDeduper{err: errors.New("redis down")}, nil, handler, logger.Discard())

	out := svc.Process(context.Background(), "exp_1", activation("evt_1"))
	if !out.Processed || len(handler.events) != 1 {
		t.Fatalf("delivery should still be processed, got %+v", out)
	}
}

func TestProcessReportsOrchestratorReason(t *testing.T) {
	handler := &recordingHandler{result: orchestrator.Result{Outcome: orchestrator.OutcomeSkipped, Reason: apperr.ReasonActiveConversationExists}}
	members := &recordingMemberships{err: errors.New("db down")}
	svc := NewService(nil, members, handler, logger.Discard())

	out := svc.Process(context.Background(), "exp_1", activation(""))
	if out.Reason != apperr.ReasonActiveConversationExists {
		t.Fatalf("expected orchestrator reason, got %+v", out)
	}
}

func TestProcessIgnoresUnsupportedAndIncompletePayloads(t *testing.T) {
	handler := &recordingHandler{}
	svc := NewService(nil, nil, handler, logger.Discard())

	if out := svc.Process(context.Background(), "exp_1", Payload{Action: "payment.succeeded"}); out.Reason != apperr.ReasonUnsupportedAction {
		t.Fatalf("expected unsupported_action, got %+v", out)
	}
	if out := svc.Process(context.Background(), "exp_1", Payload{Action: ActionMembershipWentValid}); out.Reason != apperr.ReasonInvalidPayload {
		t.Fatalf("expected invalid_payload, got %+v", out)
	}
	if len(handler.events) != 0 {
		t.Fatal("ignored payloads must not reach the orchestrator")
	}
}
