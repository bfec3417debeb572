package adapters

import (
	"context"

	"github.com/google/uuid"

	"funnel_builder_backend/internal/resource/repository"
	"funnel_builder_backend/internal/trigger"
)

// ResourceLookup is the part of the resource service the trigger resolver
// needs.
type ResourceLookup interface {
	ResolveResourceForProduct(ctx context.Context, experienceID, productID, planID string) (*repository.Resource, error)
}

// ResourceProductResolver maps Whop product and plan IDs to internal resource IDs,
// satisfying trigger.ProductResolver.
type ResourceProductResolver struct {
	resources ResourceLookup
}

// NewResourceProductResolver creates a new product resolver adapter.
func NewResourceProductResolver(resources ResourceLookup) *ResourceProductResolver {
	return &ResourceProductResolver{resources: resources}
}

// ResolveResourceForProduct returns nil when the tenant has no resource for
// the product or plan.
func (a *ResourceProductResolver) ResolveResourceForProduct(ctx context.Context, experienceID, productID, planID string) (*uuid.UUID, error) {
	res, err := a.resources.ResolveResourceForProduct(ctx, experienceID, productID, planID)
	if err != nil || res == nil {
		return nil, err
	}
	id := res.ID
	return &id, nil
}

var _ trigger.ProductResolver = (*ResourceProductResolver)(nil)
