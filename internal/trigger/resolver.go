package trigger

import (
	"context"
	"fmt"
	"math/rand/v2"

	"funnel_builder_backend/internal/funnel/domain"
	"funnel_builder_backend/platform/apperr"
	"funnel_builder_backend/platform/logger"

	"github.com/google/uuid"
)

// FunnelCatalog lists deployed, non-draft funnels configured with a trigger type.
type FunnelCatalog interface {
	ListDeployedFunnels(ctx context.Context, experienceID string, triggerType domain.TriggerType) ([]domain.Funnel, error)
}

// MemberResources returns the internal resource IDs a user owns in a tenant.
type MemberResources interface {
	GetMemberResourceIDs(ctx context.Context, experienceID, userID string) ([]uuid.UUID, error)
}

// ProductResolver maps a Whop product and plan ID to the tenant's internal
// resource ID. Either may be empty. A nil ID means the tenant has no
// resource for them.
type ProductResolver interface {
	ResolveResourceForProduct(ctx context.Context, experienceID, productID, planID string) (*uuid.UUID, error)
}

// RandomSource picks the tie-break index in [0, n).
type RandomSource interface {
	IntN(n int) int
}

type defaultRandom struct{}

func (defaultRandom) IntN(n int) int { return rand.IntN(n) }

// Resolver walks the trigger hierarchy for an event and selects a funnel.
type Resolver struct {
	catalog  FunnelCatalog
	members  MemberResources
	products ProductResolver
	random   RandomSource
	log      *logger.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRandomSource swaps the tie-break source.
func WithRandomSource(src RandomSource) Option {
	return func(r *Resolver) {
		if src != nil {
			r.random = src
		}
	}
}

// NewResolver creates a resolver over the given collaborators.
func NewResolver(catalog FunnelCatalog, members MemberResources, products ProductResolver, log *logger.Logger, opts ...Option) *Resolver {
	if log == nil {
		log = logger.Discard()
	}
	r := &Resolver{
		catalog:  catalog,
		members:  members,
		products: products,
		random:   defaultRandom{},
		log:      log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// evaluation caches per-call lookups so every candidate in one resolution
// sees the same membership snapshot.
type evaluation struct {
	experienceID string
	opts         Options

	member       ResourceSet
	memberLoaded bool

	productResource *uuid.UUID
	productLoaded   bool
}

func (r *Resolver) memberSet(ctx context.Context, ev *evaluation) (ResourceSet, error) {
	if ev.memberLoaded {
		return ev.member, nil
	}
	ev.memberLoaded = true
	ev.member = ResourceSet{}
	if ev.opts.UserID == "" || r.members == nil {
		return ev.member, nil
	}
	ids, err := r.members.GetMemberResourceIDs(ctx, ev.experienceID, ev.opts.UserID)
	if err != nil {
		return nil, fmt.Errorf("get member resources: %w", err)
	}
	ev.member = NewResourceSet(ids...)
	return ev.member, nil
}

func (r *Resolver) productResourceID(ctx context.Context, ev *evaluation) (*uuid.UUID, error) {
	if ev.productLoaded {
		return ev.productResource, nil
	}
	ev.productLoaded = true
	if (ev.opts.ProductID == "" && ev.opts.PlanID == "") || r.products == nil {
		return nil, nil
	}
	id, err := r.products.ResolveResourceForProduct(ctx, ev.experienceID, ev.opts.ProductID, ev.opts.PlanID)
	if err != nil {
		return nil, fmt.Errorf("resolve resource for product: %w", err)
	}
	ev.productResource = id
	return id, nil
}

// Resolve returns the funnel that should start a conversation, or nil when
// no trigger type in the context's hierarchy yields a candidate. The walk
// stops at the first trigger type with candidates and picks one of them at
// random.
func (r *Resolver) Resolve(ctx context.Context, experienceID string, c Context, opts Options) (*domain.Funnel, error) {
	types, ok := hierarchy[c]
	if !ok {
		return nil, apperr.Validation(fmt.Sprintf("unknown trigger context %q", c)).WithOp("trigger.Resolve")
	}

	ev := &evaluation{experienceID: experienceID, opts: opts}
	for _, t := range types {
		candidates, err := r.candidatesFor(ctx, ev, t)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			continue
		}
		picked := candidates[r.random.IntN(len(candidates))]
		r.log.Debug("trigger: funnel selected",
			"experience_id", experienceID,
			"context", string(c),
			"trigger_type", string(t),
			"funnel_id", picked.ID.String(),
			"candidates", len(candidates),
		)
		return &picked, nil
	}

	return nil, nil
}

// ResolveAll returns every funnel that could fire for the event across the
// whole hierarchy, deduplicated, in hierarchy order. No tie-break is applied.
func (r *Resolver) ResolveAll(ctx context.Context, experienceID string, c Context, opts Options) ([]domain.Funnel, error) {
	types, ok := hierarchy[c]
	if !ok {
		return nil, apperr.Validation(fmt.Sprintf("unknown trigger context %q", c)).WithOp("trigger.ResolveAll")
	}

	ev := &evaluation{experienceID: experienceID, opts: opts}
	seen := make(map[uuid.UUID]struct{})
	result := make([]domain.Funnel, 0)
	for _, t := range types {
		candidates, err := r.candidatesFor(ctx, ev, t)
		if err != nil {
			return nil, err
		}
		for _, f := range candidates {
			if _, dup := seen[f.ID]; dup {
				continue
			}
			seen[f.ID] = struct{}{}
			result = append(result, f)
		}
	}
	return result, nil
}

func (r *Resolver) candidatesFor(ctx context.Context, ev *evaluation, t domain.TriggerType) ([]domain.Funnel, error) {
	funnels, err := r.catalog.ListDeployedFunnels(ctx, ev.experienceID, t)
	if err != nil {
		return nil, fmt.Errorf("list deployed funnels for %s: %w", t, err)
	}

	out := make([]domain.Funnel, 0, len(funnels))
	for _, f := range funnels {
		ok, err := r.isCandidate(ctx, ev, f, t)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *Resolver) isCandidate(ctx context.Context, ev *evaluation, f domain.Funnel, t domain.TriggerType) (bool, error) {
	if !f.IsDeployed || f.IsDraft {
		return false, nil
	}

	match, ok := f.TriggerFor(t)
	if !ok {
		return false, nil
	}

	if !f.HasValidFlow() {
		r.log.Debug("trigger: skipping funnel with invalid flow", "funnel_id", f.ID.String(), "trigger_type", string(t))
		return false, nil
	}

	if t.IsProductScoped() {
		resourceID, err := r.productResourceID(ctx, ev)
		if err != nil {
			return false, err
		}
		if resourceID == nil || match.ResourceID == nil || *match.ResourceID != *resourceID {
			return false, nil
		}
	}

	if t.IsCompletionChained() {
		if ev.opts.CompletedFunnelID == nil || match.CompletedFunnelID == nil {
			return false, nil
		}
		if *match.CompletedFunnelID != *ev.opts.CompletedFunnelID {
			return false, nil
		}
	}

	if match.Filter == nil || (len(match.Filter.Required) == 0 && len(match.Filter.Excluded) == 0) {
		return true, nil
	}

	member, err := r.memberSet(ctx, ev)
	if err != nil {
		return false, err
	}
	return PassesFilter(match.Filter.Required, match.Filter.Excluded, member), nil
}
