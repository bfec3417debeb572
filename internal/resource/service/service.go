package service

import (
	"context"
	"strings"

	"funnel_builder_backend/internal/events"
	"funnel_builder_backend/internal/resource/repository"
	"funnel_builder_backend/internal/resource/transport"
	"funnel_builder_backend/platform/apperr"
	"funnel_builder_backend/platform/logger"

	"github.com/google/uuid"
)

// Service provides business logic for resources and memberships.
type Service struct {
	repo     repository.Repository
	eventBus events.Bus
	log      *logger.Logger
}

// New creates a new resource service.
func New(repo repository.Repository, eventBus events.Bus, log *logger.Logger) *Service {
	return &Service{repo: repo, eventBus: eventBus, log: log}
}

// Create registers a resource for the experience.
func (s *Service) Create(ctx context.Context, experienceID string, req transport.CreateResourceRequest) (transport.ResourceResponse, error) {
	res, err := s.repo.CreateResource(ctx, repository.CreateResourceParams{
		ExperienceID:  experienceID,
		Name:          strings.TrimSpace(req.Name),
		WhopProductID: trimmed(req.WhopProductID),
		WhopPlanID:    trimmed(req.WhopPlanID),
	})
	if err != nil {
		return transport.ResourceResponse{}, err
	}
	return toResponse(res), nil
}

// List returns every resource of the experience.
func (s *Service) List(ctx context.Context, experienceID string) (transport.ResourceListResponse, error) {
	items, err := s.repo.ListResources(ctx, experienceID)
	if err != nil {
		return transport.ResourceListResponse{}, err
	}
	out := make([]transport.ResourceResponse, 0, len(items))
	for _, r := range items {
		out = append(out, toResponse(r))
	}
	return transport.ResourceListResponse{Items: out}, nil
}

// Delete removes a resource.
func (s *Service) Delete(ctx context.Context, experienceID string, id uuid.UUID) error {
	return s.repo.DeleteResource(ctx, experienceID, id)
}

// GetMemberResourceIDs returns the resource IDs the user currently owns.
func (s *Service) GetMemberResourceIDs(ctx context.Context, experienceID, whopUserID string) ([]uuid.UUID, error) {
	if whopUserID == "" {
		return nil, nil
	}
	return s.repo.GetMemberResourceIDs(ctx, experienceID, whopUserID)
}

// ResolveResourceForProduct maps a Whop product and plan ID to a resource.
func (s *Service) ResolveResourceForProduct(ctx context.Context, experienceID, productID, planID string) (*repository.Resource, error) {
	productID = strings.TrimSpace(productID)
	planID = strings.TrimSpace(planID)
	if productID == "" && planID == "" {
		return nil, nil
	}
	return s.repo.FindResourceForProduct(ctx, experienceID, productID, planID)
}

// RecordMembership stores the membership state carried by a webhook.
func (s *Service) RecordMembership(ctx context.Context, params repository.UpsertMembershipParams) (repository.Membership, error) {
	if params.ExperienceID == "" || params.WhopUserID == "" || params.WhopMembershipID == "" {
		return repository.Membership{}, apperr.Validation("experienceId, whopUserId and whopMembershipId are required").WithOp("resource.service.record_membership")
	}
	m, err := s.repo.UpsertMembership(ctx, params)
	if err != nil {
		return repository.Membership{}, err
	}

	if s.eventBus != nil {
		product := ""
		if m.WhopProductID != nil {
			product = *m.WhopProductID
		}
		s.eventBus.Publish(ctx, events.MembershipChanged{
			BaseEvent:        events.NewBaseEvent(),
			ExperienceID:     m.ExperienceID,
			WhopUserID:       m.WhopUserID,
			WhopMembershipID: m.WhopMembershipID,
			WhopProductID:    product,
			Status:           string(m.Status),
		})
	}
	return m, nil
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}

func toResponse(r repository.Resource) transport.ResourceResponse {
	return transport.ResourceResponse{
		ID:            r.ID.String(),
		Name:          r.Name,
		WhopProductID: r.WhopProductID,
		WhopPlanID:    r.WhopPlanID,
		CreatedAt:     r.CreatedAt,
	}
}
