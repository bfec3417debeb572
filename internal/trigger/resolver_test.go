package trigger

import (
	"context"
	"errors"
	"testing"

	"funnel_builder_backend/internal/funnel/domain"

	"github.com/google/uuid"
)

const testExperience = "exp_test"

type fakeCatalog struct {
	byType map[domain.TriggerType][]domain.Funnel
	calls  []domain.TriggerType
	err    error
}

func (f *fakeCatalog) ListDeployedFunnels(_ context.Context, _ string, t domain.TriggerType) ([]domain.Funnel, error) {
	f.calls = append(f.calls, t)
	if f.err != nil {
		return nil, f.err
	}
	return f.byType[t], nil
}

type fakeMembers struct {
	ids   []uuid.UUID
	calls int
}

func (f *fakeMembers) GetMemberResourceIDs(_ context.Context, _, _ string) ([]uuid.UUID, error) {
	f.calls++
	return f.ids, nil
}

type fakeProducts struct {
	byProduct map[string]uuid.UUID
	byPlan    map[string]uuid.UUID
}

func (f *fakeProducts) ResolveResourceForProduct(_ context.Context, _ string, productID, planID string) (*uuid.UUID, error) {
	if id, ok := f.byProduct[productID]; ok && productID != "" {
		return &id, nil
	}
	if id, ok := f.byPlan[planID]; ok && planID != "" {
		return &id, nil
	}
	return nil, nil
}

type fixedRandom struct {
	index int
	seenN []int
}

func (f *fixedRandom) IntN(n int) int {
	f.seenN = append(f.seenN, n)
	return f.index
}

func validFlow(t *testing.T) *domain.Flow {
	t.Helper()
	flow, err := domain.ParseFlow([]byte(`{"startBlockId":"a","stages":[],"blocks":{"a":{"id":"a","message":"hi","options":[]}}}`))
	if err != nil {
		t.Fatalf("flow: %v", err)
	}
	return flow
}

func appFunnel(t *testing.T, tt domain.TriggerType) domain.Funnel {
	t.Helper()
	return domain.Funnel{
		ID:           uuid.New(),
		ExperienceID: testExperience,
		Flow:         validFlow(t),
		IsDeployed:   true,
		AppTrigger:   &domain.AppTrigger{Type: tt},
	}
}

func membershipFunnel(t *testing.T, tt domain.TriggerType, resourceID *uuid.UUID) domain.Funnel {
	t.Helper()
	return domain.Funnel{
		ID:                uuid.New(),
		ExperienceID:      testExperience,
		Flow:              validFlow(t),
		IsDeployed:        true,
		MembershipTrigger: &domain.MembershipTrigger{Type: tt, ResourceID: resourceID},
	}
}

func TestResolveShortCircuitsHierarchy(t *testing.T) {
	first := appFunnel(t, domain.TriggerOnAppEntry)
	second := appFunnel(t, domain.TriggerNoActiveConversation)
	catalog := &fakeCatalog{byType: map[domain.TriggerType][]domain.Funnel{
		domain.TriggerOnAppEntry:           {first},
		domain.TriggerNoActiveConversation: {second},
	}}

	r := NewResolver(catalog, &fakeMembers{}, &fakeProducts{}, nil)
	got, err := r.Resolve(context.Background(), testExperience, ContextAppEntry, Options{UserID: "user_1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.ID != first.ID {
		t.Fatal("expected funnel from first trigger type")
	}
	if len(catalog.calls) != 1 || catalog.calls[0] != domain.TriggerOnAppEntry {
		t.Fatalf("second trigger type must not be consulted, calls=%v", catalog.calls)
	}
}

func TestResolveFallsThroughWhenFirstTypeEmpty(t *testing.T) {
	second := appFunnel(t, domain.TriggerNoActiveConversation)
	catalog := &fakeCatalog{byType: map[domain.TriggerType][]domain.Funnel{
		domain.TriggerNoActiveConversation: {second},
	}}

	r := NewResolver(catalog, &fakeMembers{}, &fakeProducts{}, nil)
	got, err := r.Resolve(context.Background(), testExperience, ContextAppEntry, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.ID != second.ID {
		t.Fatal("expected fallback to no_active_conversation funnel")
	}
}

func TestResolveTieBreakUsesInjectedRandom(t *testing.T) {
	a := appFunnel(t, domain.TriggerOnAppEntry)
	b := appFunnel(t, domain.TriggerOnAppEntry)
	c := appFunnel(t, domain.TriggerOnAppEntry)
	catalog := &fakeCatalog{byType: map[domain.TriggerType][]domain.Funnel{
		domain.TriggerOnAppEntry: {a, b, c},
	}}

	rnd := &fixedRandom{index: 2}
	r := NewResolver(catalog, &fakeMembers{}, &fakeProducts{}, nil, WithRandomSource(rnd))
	got, err := r.Resolve(context.Background(), testExperience, ContextAppEntry, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.ID != c.ID {
		t.Fatal("expected third candidate from deterministic source")
	}
	if len(rnd.seenN) != 1 || rnd.seenN[0] != 3 {
		t.Fatalf("random source should be asked once over 3 candidates, got %v", rnd.seenN)
	}
}

func TestResolveAnyMembershipTriedBeforeSpecific(t *testing.T) {
	resourceID := uuid.New()
	anyBuy := membershipFunnel(t, domain.TriggerAnyMembershipBuy, nil)
	specific := membershipFunnel(t, domain.TriggerMembershipBuy, &resourceID)
	catalog := &fakeCatalog{byType: map[domain.TriggerType][]domain.Funnel{
		domain.TriggerAnyMembershipBuy: {anyBuy},
		domain.TriggerMembershipBuy:    {specific},
	}}
	products := &fakeProducts{byProduct: map[string]uuid.UUID{"prod_1": resourceID}}

	r := NewResolver(catalog, &fakeMembers{}, products, nil)
	got, err := r.Resolve(context.Background(), testExperience, ContextMembershipActivated, Options{ProductID: "prod_1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.ID != anyBuy.ID {
		t.Fatal("any_membership_buy must win over membership_buy")
	}
}

func TestResolveProductScopedRequiresMatchingProduct(t *testing.T) {
	resourceA := uuid.New()
	resourceB := uuid.New()
	funnelA := membershipFunnel(t, domain.TriggerCancelMembership, &resourceA)
	catalog := &fakeCatalog{byType: map[domain.TriggerType][]domain.Funnel{
		domain.TriggerCancelMembership: {funnelA},
	}}
	products := &fakeProducts{byProduct: map[string]uuid.UUID{"prod_a": resourceA, "prod_b": resourceB}}
	r := NewResolver(catalog, &fakeMembers{}, products, nil)

	got, err := r.Resolve(context.Background(), testExperience, ContextMembershipDeactivated, Options{ProductID: "prod_b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatal("funnel for product A must not fire for product B")
	}

	got, err = r.Resolve(context.Background(), testExperience, ContextMembershipDeactivated, Options{ProductID: "prod_unknown"})
	if err != nil || got != nil {
		t.Fatalf("unknown product should yield no funnel, got %v err %v", got, err)
	}

	got, err = r.Resolve(context.Background(), testExperience, ContextMembershipDeactivated, Options{ProductID: "prod_a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.ID != funnelA.ID {
		t.Fatal("expected funnel for its own product")
	}
}

func TestResolveProductScopedMatchesPlanOnlyResource(t *testing.T) {
	resource := uuid.New()
	funnel := membershipFunnel(t, domain.TriggerMembershipBuy, &resource)
	catalog := &fakeCatalog{byType: map[domain.TriggerType][]domain.Funnel{
		domain.TriggerMembershipBuy: {funnel},
	}}
	products := &fakeProducts{byPlan: map[string]uuid.UUID{"plan_9": resource}}
	r := NewResolver(catalog, &fakeMembers{}, products, nil)

	got, err := r.Resolve(context.Background(), testExperience, ContextMembershipActivated, Options{ProductID: "prod_1", PlanID: "plan_9"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.ID != funnel.ID {
		t.Fatal("resource configured by plan should match when the product is also present")
	}

	got, err = r.Resolve(context.Background(), testExperience, ContextMembershipActivated, Options{PlanID: "plan_9"})
	if err != nil || got == nil || got.ID != funnel.ID {
		t.Fatalf("plan-only payload should match, got %v err %v", got, err)
	}
}

func TestResolveFunnelCompletedRequiresExplicitReference(t *testing.T) {
	completed := uuid.New()
	other := uuid.New()

	chained := appFunnel(t, domain.TriggerQualificationComplete)
	chained.AppTrigger.CompletedFunnelID = &completed
	unrelated := appFunnel(t, domain.TriggerQualificationComplete)
	unrelated.AppTrigger.CompletedFunnelID = &other
	unreferenced := appFunnel(t, domain.TriggerQualificationComplete)

	catalog := &fakeCatalog{byType: map[domain.TriggerType][]domain.Funnel{
		domain.TriggerQualificationComplete: {unrelated, unreferenced, chained},
	}}
	r := NewResolver(catalog, &fakeMembers{}, &fakeProducts{}, nil)

	all, err := r.ResolveAll(context.Background(), testExperience, ContextFunnelCompleted, Options{CompletedFunnelID: &completed})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 1 || all[0].ID != chained.ID {
		t.Fatalf("only the funnel referencing the completed funnel may qualify, got %d", len(all))
	}

	none, err := r.Resolve(context.Background(), testExperience, ContextFunnelCompleted, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if none != nil {
		t.Fatal("without completedFunnelId nothing should fire")
	}
}

func TestResolveSkipsInvalidFlowsAndDrafts(t *testing.T) {
	broken := appFunnel(t, domain.TriggerOnAppEntry)
	broken.Flow = nil
	draft := appFunnel(t, domain.TriggerOnAppEntry)
	draft.IsDraft = true
	undeployed := appFunnel(t, domain.TriggerOnAppEntry)
	undeployed.IsDeployed = false

	catalog := &fakeCatalog{byType: map[domain.TriggerType][]domain.Funnel{
		domain.TriggerOnAppEntry: {broken, draft, undeployed},
	}}
	r := NewResolver(catalog, &fakeMembers{}, &fakeProducts{}, nil)

	got, err := r.Resolve(context.Background(), testExperience, ContextAppEntry, Options{})
	if err != nil {
		t.Fatalf("invalid candidates are not errors, got %v", err)
	}
	if got != nil {
		t.Fatal("no valid candidate should resolve to none")
	}
}

func TestResolveAppliesFilterWithSingleSnapshot(t *testing.T) {
	owned := uuid.New()
	notOwned := uuid.New()

	needsOwned := appFunnel(t, domain.TriggerOnAppEntry)
	needsOwned.AppTrigger.Filter = &domain.ResourceFilter{Required: []uuid.UUID{owned}}
	needsOther := appFunnel(t, domain.TriggerOnAppEntry)
	needsOther.AppTrigger.Filter = &domain.ResourceFilter{Required: []uuid.UUID{notOwned}}
	excludesOwned := appFunnel(t, domain.TriggerOnAppEntry)
	excludesOwned.AppTrigger.Filter = &domain.ResourceFilter{Excluded: []uuid.UUID{owned}}

	catalog := &fakeCatalog{byType: map[domain.TriggerType][]domain.Funnel{
		domain.TriggerOnAppEntry: {needsOwned, needsOther, excludesOwned},
	}}
	members := &fakeMembers{ids: []uuid.UUID{owned}}
	r := NewResolver(catalog, members, &fakeProducts{}, nil)

	all, err := r.ResolveAll(context.Background(), testExperience, ContextAppEntry, Options{UserID: "user_1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 1 || all[0].ID != needsOwned.ID {
		t.Fatalf("expected only the funnel requiring the owned resource, got %d", len(all))
	}
	if members.calls != 1 {
		t.Fatalf("member resources must be fetched once per resolution, got %d", members.calls)
	}
}

func TestResolveAllDeduplicatesAcrossHierarchy(t *testing.T) {
	shared := appFunnel(t, domain.TriggerOnAppEntry)
	extra := appFunnel(t, domain.TriggerNoActiveConversation)

	// The catalog returns the same funnel row under a second trigger type.
	sharedAgain := shared
	sharedAgain.AppTrigger = &domain.AppTrigger{Type: domain.TriggerNoActiveConversation}

	catalog := &fakeCatalog{byType: map[domain.TriggerType][]domain.Funnel{
		domain.TriggerOnAppEntry:           {shared},
		domain.TriggerNoActiveConversation: {extra, sharedAgain},
	}}

	r := NewResolver(catalog, &fakeMembers{}, &fakeProducts{}, nil)
	all, err := r.ResolveAll(context.Background(), testExperience, ContextAppEntry, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 unique funnels, got %d", len(all))
	}
	if all[0].ID != shared.ID || all[1].ID != extra.ID {
		t.Fatal("expected hierarchy order preserved")
	}
}

func TestResolveUnknownContextAndCatalogErrors(t *testing.T) {
	r := NewResolver(&fakeCatalog{}, &fakeMembers{}, &fakeProducts{}, nil)
	if _, err := r.Resolve(context.Background(), testExperience, Context("bogus"), Options{}); err == nil {
		t.Fatal("unknown context should be rejected")
	}

	boom := errors.New("db down")
	r = NewResolver(&fakeCatalog{err: boom}, &fakeMembers{}, &fakeProducts{}, nil)
	if _, err := r.Resolve(context.Background(), testExperience, ContextAppEntry, Options{}); !errors.Is(err, boom) {
		t.Fatalf("expected catalog error to propagate, got %v", err)
	}
}

func TestHierarchyOrder(t *testing.T) {
	got := Hierarchy(ContextMembershipDeactivated)
	if len(got) != 2 || got[0] != domain.TriggerAnyCancelMembership || got[1] != domain.TriggerCancelMembership {
		t.Fatalf("unexpected hierarchy %v", got)
	}
	if _, ok := ParseContext("funnel_completed"); !ok {
		t.Fatal("funnel_completed should parse")
	}
	if _, ok := ParseContext("nope"); ok {
		t.Fatal("unknown contexts should not parse")
	}
}
