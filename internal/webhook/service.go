package webhook

import (
	"context"
	"strings"

	"funnel_builder_backend/internal/orchestrator"
	"funnel_builder_backend/internal/resource/repository"
	"funnel_builder_backend/platform/apperr"
	"funnel_builder_backend/platform/logger"
)

// EventHandler runs the trigger pipeline for a normalized event.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev orchestrator.Event) orchestrator.Result
}

// MembershipRecorder stores the membership state a webhook carries.
type MembershipRecorder interface {
	RecordMembership(ctx context.Context, params repository.UpsertMembershipParams) (repository.Membership, error)
}

// Outcome is returned to the webhook sender.
type Outcome struct {
	Action     string               `json:"action"`
	DeliveryID string               `json:"deliveryId,omitempty"`
	Context    string               `json:"context,omitempty"`
	Processed  bool                 `json:"processed"`
	Reason     apperr.Reason        `json:"reason,omitempty"`
	Result     *orchestrator.Result `json:"result,omitempty"`
}

// Service processes authenticated webhook payloads.
type Service struct {
	deduper     Deduper
	memberships MembershipRecorder
	handler     EventHandler
	log         *logger.Logger
}

// NewService creates the webhook service. deduper may be nil.
func NewService(deduper Deduper, memberships MembershipRecorder, handler EventHandler, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Discard()
	}
	return &Service{deduper: deduper, memberships: memberships, handler: handler, log: log}
}

// Process normalizes, deduplicates and dispatches one delivery. It never
// fails; every outcome carries a reason code.
func (s *Service) Process(ctx context.Context, experienceID string, p Payload) Outcome {
	out := Outcome{Action: p.Action, DeliveryID: strings.TrimSpace(p.ID)}

	ev, ok := Normalize(p)
	if !ok {
		out.Reason = apperr.ReasonUnsupportedAction
		s.logOutcome(out)
		return out
	}
	out.Context = string(ev.Context)

	if ev.UserID == "" {
		out.Reason = apperr.ReasonInvalidPayload
		s.logOutcome(out)
		return out
	}

	if s.deduper != nil && out.DeliveryID != "" {
		first, err := s.deduper.FirstDelivery(ctx, out.DeliveryID, experienceID, p.Action)
		if err != nil {
			s.log.Warn("webhook: delivery dedup unavailable", "error", err, "delivery_id", out.DeliveryID)
		} else if !first {
			out.Reason = apperr.ReasonDuplicateDelivery
			s.logOutcome(out)
			return out
		}
	}

	if s.memberships != nil && ev.MembershipID != "" {
		if _, err := s.memberships.RecordMembership(ctx, repository.UpsertMembershipParams{
			ExperienceID:     experienceID,
			WhopUserID:       ev.UserID,
			WhopMembershipID: ev.MembershipID,
			WhopProductID:    optional(ev.ProductID),
			WhopPlanID:       optional(ev.PlanID),
			Status:           ev.Status,
		}); err != nil {
			s.log.Error("webhook: record membership failed", "error", err,
				"experience_id", experienceID, "membership_id", ev.MembershipID)
		}
	}

	res := s.handler.HandleEvent(ctx, orchestrator.Event{
		ExperienceID: experienceID,
		UserID:       ev.UserID,
		Context:      ev.Context,
		ProductID:    ev.ProductID,
		PlanID:       ev.PlanID,
	})
	out.Processed = true
	out.Reason = res.Reason
	out.Result = &res
	s.logOutcome(out)
	return out
}

func (s *Service) logOutcome(out Outcome) {
	outcome := "ignored"
	if out.Result != nil {
		outcome = string(out.Result.Outcome)
	}
	s.log.WebhookEvent(out.Action, out.DeliveryID, outcome, string(out.Reason))
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
