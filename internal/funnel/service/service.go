// Package service implements funnel authoring: create, edit, deploy and
// preview.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"funnel_builder_backend/internal/events"
	"funnel_builder_backend/internal/funnel/domain"
	"funnel_builder_backend/internal/funnel/repository"
	"funnel_builder_backend/internal/funnel/transport"
	"funnel_builder_backend/internal/trigger"
	"funnel_builder_backend/platform/apperr"
	"funnel_builder_backend/platform/logger"

	"github.com/google/uuid"
)

// Previewer lists every funnel that could fire for an event.
type Previewer interface {
	ResolveAll(ctx context.Context, experienceID string, c trigger.Context, opts trigger.Options) ([]domain.Funnel, error)
}

// Service provides business logic for funnels.
type Service struct {
	repo      repository.Repository
	archiver  FlowArchiver
	previewer Previewer
	eventBus  events.Bus
	log       *logger.Logger
}

// New creates a new funnel service. archiver may be nil.
func New(repo repository.Repository, archiver FlowArchiver, eventBus events.Bus, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Discard()
	}
	return &Service{repo: repo, archiver: archiver, eventBus: eventBus, log: log}
}

// SetPreviewer wires the trigger resolver used by Preview.
func (s *Service) SetPreviewer(p Previewer) { s.previewer = p }

// Create stores a new draft funnel after validating its flow.
func (s *Service) Create(ctx context.Context, experienceID string, req transport.CreateFunnelRequest) (transport.FunnelResponse, error) {
	flowJSON, err := normalizeFlow(req.Flow, req.FlowYAML)
	if err != nil {
		return transport.FunnelResponse{}, err
	}
	app, mem, err := toTriggers(req.AppTrigger, req.MembershipTrigger)
	if err != nil {
		return transport.FunnelResponse{}, err
	}

	f, err := s.repo.Create(ctx, repository.CreateParams{
		ExperienceID:      experienceID,
		Name:              strings.TrimSpace(req.Name),
		Flow:              flowJSON,
		AppTrigger:        app,
		MembershipTrigger: mem,
		TargetFunnelID:    req.TargetFunnelID,
	})
	if err != nil {
		return transport.FunnelResponse{}, err
	}
	return ToResponse(f), nil
}

// Get returns one funnel.
func (s *Service) Get(ctx context.Context, experienceID string, id uuid.UUID) (transport.FunnelResponse, error) {
	f, err := s.repo.Get(ctx, experienceID, id)
	if err != nil {
		return transport.FunnelResponse{}, err
	}
	return ToResponse(f), nil
}

// GetFunnel returns the domain funnel for engine callers.
func (s *Service) GetFunnel(ctx context.Context, experienceID string, id uuid.UUID) (domain.Funnel, error) {
	return s.repo.Get(ctx, experienceID, id)
}

// List returns every funnel of the experience.
func (s *Service) List(ctx context.Context, experienceID string) (transport.FunnelListResponse, error) {
	items, err := s.repo.List(ctx, experienceID)
	if err != nil {
		return transport.FunnelListResponse{}, err
	}
	out := make([]transport.FunnelResponse, 0, len(items))
	for _, f := range items {
		out = append(out, ToResponse(f))
	}
	return transport.FunnelListResponse{Items: out}, nil
}

// UpdateFlow replaces the flow document and marks the funnel as a draft.
func (s *Service) UpdateFlow(ctx context.Context, experienceID string, id uuid.UUID, req transport.UpdateFlowRequest) (transport.FunnelResponse, error) {
	flowJSON, err := normalizeFlow(req.Flow, req.FlowYAML)
	if err != nil {
		return transport.FunnelResponse{}, err
	}
	f, err := s.repo.UpdateFlow(ctx, experienceID, id, flowJSON)
	if err != nil {
		return transport.FunnelResponse{}, err
	}
	return ToResponse(f), nil
}

// UpdateTriggers replaces the trigger configuration.
func (s *Service) UpdateTriggers(ctx context.Context, experienceID string, id uuid.UUID, req transport.UpdateTriggersRequest) (transport.FunnelResponse, error) {
	app, mem, err := toTriggers(req.AppTrigger, req.MembershipTrigger)
	if err != nil {
		return transport.FunnelResponse{}, err
	}
	if req.TargetFunnelID != nil && *req.TargetFunnelID != id {
		if _, err := s.repo.Get(ctx, experienceID, *req.TargetFunnelID); err != nil {
			return transport.FunnelResponse{}, err
		}
	}
	f, err := s.repo.UpdateTriggers(ctx, repository.UpdateTriggersParams{
		ID:                id,
		ExperienceID:      experienceID,
		AppTrigger:        app,
		MembershipTrigger: mem,
		TargetFunnelID:    req.TargetFunnelID,
	})
	if err != nil {
		return transport.FunnelResponse{}, err
	}
	return ToResponse(f), nil
}

// Deploy publishes a funnel. The stored flow must still validate.
func (s *Service) Deploy(ctx context.Context, experienceID string, id uuid.UUID) (transport.FunnelResponse, error) {
	current, err := s.repo.Get(ctx, experienceID, id)
	if err != nil {
		return transport.FunnelResponse{}, err
	}
	if !current.HasValidFlow() {
		return transport.FunnelResponse{}, invalidFlowError(current.FlowError).WithOp("funnel.service.deploy")
	}

	f, err := s.repo.Deploy(ctx, experienceID, id)
	if err != nil {
		return transport.FunnelResponse{}, err
	}

	if s.archiver != nil {
		key, archErr := s.archiver.Archive(ctx, f)
		if archErr != nil {
			s.log.Error("funnel: archive flow failed", "error", archErr, "funnel_id", f.ID.String(), "version", f.Version)
		} else {
			s.log.Info("funnel: flow archived", "funnel_id", f.ID.String(), "version", f.Version, "key", key)
		}
	}

	if s.eventBus != nil {
		s.eventBus.Publish(ctx, events.FunnelDeployed{
			BaseEvent:    events.NewBaseEvent(),
			FunnelID:     f.ID,
			ExperienceID: f.ExperienceID,
			Version:      f.Version,
		})
	}
	return ToResponse(f), nil
}

// Undeploy takes a funnel offline. Running conversations are unaffected.
func (s *Service) Undeploy(ctx context.Context, experienceID string, id uuid.UUID) (transport.FunnelResponse, error) {
	f, err := s.repo.Undeploy(ctx, experienceID, id)
	if err != nil {
		return transport.FunnelResponse{}, err
	}
	return ToResponse(f), nil
}

// Delete removes a funnel with no conversations.
func (s *Service) Delete(ctx context.Context, experienceID string, id uuid.UUID) error {
	return s.repo.Delete(ctx, experienceID, id)
}

// ArchiveURL presigns the download of an archived version.
func (s *Service) ArchiveURL(ctx context.Context, experienceID string, id uuid.UUID, version int) (transport.ArchiveURLResponse, error) {
	if s.archiver == nil {
		return transport.ArchiveURLResponse{}, apperr.NotFound("flow archive is not configured")
	}
	f, err := s.repo.Get(ctx, experienceID, id)
	if err != nil {
		return transport.ArchiveURLResponse{}, err
	}
	if version < 1 || version > f.Version {
		return transport.ArchiveURLResponse{}, apperr.NotFound("funnel version not found")
	}
	u, err := s.archiver.DownloadURL(ctx, experienceID, id, version)
	if errors.Is(err, ErrSnapshotMissing) {
		return transport.ArchiveURLResponse{}, apperr.NotFound("funnel version was not archived")
	}
	if err != nil {
		return transport.ArchiveURLResponse{}, apperr.Wrap(apperr.KindInternal, "presign archive failed", err)
	}
	return transport.ArchiveURLResponse{URL: u.URL, Key: u.FileKey, ExpiresAt: u.ExpiresAt}, nil
}

// Preview lists the funnels that could fire for an event without starting
// a conversation.
func (s *Service) Preview(ctx context.Context, experienceID string, req transport.PreviewRequest) (transport.PreviewResponse, error) {
	if s.previewer == nil {
		return transport.PreviewResponse{}, apperr.Internal("preview is not configured")
	}
	c, ok := trigger.ParseContext(req.Context)
	if !ok {
		return transport.PreviewResponse{}, apperr.Validation("unknown trigger context")
	}
	funnels, err := s.previewer.ResolveAll(ctx, experienceID, c, trigger.Options{
		UserID:            req.WhopUserID,
		ProductID:         req.ProductID,
		PlanID:            req.PlanID,
		CompletedFunnelID: req.CompletedFunnelID,
	})
	if err != nil {
		return transport.PreviewResponse{}, err
	}
	out := make([]transport.FunnelResponse, 0, len(funnels))
	for _, f := range funnels {
		out = append(out, ToResponse(f))
	}
	return transport.PreviewResponse{Context: string(c), Funnels: out}, nil
}

func normalizeFlow(raw json.RawMessage, yamlSrc string) ([]byte, error) {
	var (
		flow *domain.Flow
		err  error
	)
	if strings.TrimSpace(yamlSrc) != "" {
		flow, err = domain.ParseFlowYAML([]byte(yamlSrc))
	} else {
		flow, err = domain.ParseFlow(raw)
	}
	if err != nil {
		return nil, invalidFlowError(err)
	}
	out, err := json.Marshal(flow)
	if err != nil {
		return nil, fmt.Errorf("encode flow: %w", err)
	}
	return out, nil
}

func invalidFlowError(err error) *apperr.Error {
	e := apperr.Validation("invalid funnel flow").WithReason(apperr.ReasonInvalidFlow)
	var flowErr *domain.FlowError
	if errors.As(err, &flowErr) {
		return e.WithDetails(flowErr.Issues)
	}
	return e
}

func toTriggers(app *transport.AppTriggerRequest, mem *transport.MembershipTriggerRequest) (*domain.AppTrigger, *domain.MembershipTrigger, error) {
	var (
		outApp *domain.AppTrigger
		outMem *domain.MembershipTrigger
	)
	if app != nil {
		outApp = &domain.AppTrigger{
			Type:              domain.TriggerType(app.Type),
			Filter:            toFilter(app.Filter),
			CompletedFunnelID: app.CompletedFunnelID,
		}
		if outApp.Type.IsCompletionChained() && outApp.CompletedFunnelID == nil {
			return nil, nil, apperr.Validation(fmt.Sprintf("%s trigger requires completedFunnelId", outApp.Type))
		}
	}
	if mem != nil {
		outMem = &domain.MembershipTrigger{
			Type:       domain.TriggerType(mem.Type),
			Filter:     toFilter(mem.Filter),
			ResourceID: mem.ResourceID,
		}
		if outMem.Type.IsProductScoped() && outMem.ResourceID == nil {
			return nil, nil, apperr.Validation(fmt.Sprintf("%s trigger requires resourceId", outMem.Type))
		}
	}
	return outApp, outMem, nil
}

func toFilter(f *transport.FilterRequest) *domain.ResourceFilter {
	if f == nil || (len(f.Required) == 0 && len(f.Excluded) == 0) {
		return nil
	}
	return &domain.ResourceFilter{Required: f.Required, Excluded: f.Excluded}
}

// ToResponse maps a funnel to its API shape.
func ToResponse(f domain.Funnel) transport.FunnelResponse {
	resp := transport.FunnelResponse{
		ID:                f.ID,
		Name:              f.Name,
		Version:           f.Version,
		IsDeployed:        f.IsDeployed,
		IsDraft:           f.IsDraft,
		Flow:              f.Flow,
		AppTrigger:        f.AppTrigger,
		MembershipTrigger: f.MembershipTrigger,
		TargetFunnelID:    f.TargetFunnelID,
		CreatedAt:         f.CreatedAt,
		UpdatedAt:         f.UpdatedAt,
	}
	if f.FlowError != nil {
		msg := f.FlowError.Error()
		resp.FlowError = &msg
	}
	return resp
}
