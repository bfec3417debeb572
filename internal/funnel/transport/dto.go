package transport

import (
	"encoding/json"
	"time"

	"funnel_builder_backend/internal/funnel/domain"
	"funnel_builder_backend/platform/validator"

	"github.com/google/uuid"
)

// RegisterValidations adds the trigger type tags used by the request DTOs.
func RegisterValidations(val *validator.Validator) error {
	if err := val.RegisterValidation("app_trigger", validator.OneOfFunc(triggerNames(domain.AppTriggerTypes)...)); err != nil {
		return err
	}
	return val.RegisterValidation("membership_trigger", validator.OneOfFunc(triggerNames(domain.MembershipTriggerTypes)...))
}

func triggerNames(types []domain.TriggerType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

// FilterRequest restricts a trigger by owned resources.
type FilterRequest struct {
	Required []uuid.UUID `json:"required"`
	Excluded []uuid.UUID `json:"excluded"`
}

type AppTriggerRequest struct {
	Type              string         `json:"type" validate:"required,app_trigger"`
	Filter            *FilterRequest `json:"filter"`
	CompletedFunnelID *uuid.UUID     `json:"completedFunnelId"`
}

type MembershipTriggerRequest struct {
	Type       string         `json:"type" validate:"required,membership_trigger"`
	Filter     *FilterRequest `json:"filter"`
	ResourceID *uuid.UUID     `json:"resourceId"`
}

// CreateFunnelRequest accepts the flow either as a JSON document or as YAML
// source text.
type CreateFunnelRequest struct {
	Name              string                    `json:"name" validate:"required,min=1,max=200"`
	Flow              json.RawMessage           `json:"flow" validate:"required_without=FlowYAML"`
	FlowYAML          string                    `json:"flowYaml" validate:"required_without=Flow"`
	AppTrigger        *AppTriggerRequest        `json:"appTrigger" validate:"omitempty"`
	MembershipTrigger *MembershipTriggerRequest `json:"membershipTrigger" validate:"omitempty"`
	TargetFunnelID    *uuid.UUID                `json:"targetFunnelId"`
}

type UpdateFlowRequest struct {
	Flow     json.RawMessage `json:"flow" validate:"required_without=FlowYAML"`
	FlowYAML string          `json:"flowYaml" validate:"required_without=Flow"`
}

type UpdateTriggersRequest struct {
	AppTrigger        *AppTriggerRequest        `json:"appTrigger" validate:"omitempty"`
	MembershipTrigger *MembershipTriggerRequest `json:"membershipTrigger" validate:"omitempty"`
	TargetFunnelID    *uuid.UUID                `json:"targetFunnelId"`
}

// PreviewRequest asks which funnels could fire for a hypothetical event.
type PreviewRequest struct {
	Context           string     `json:"context" validate:"required,oneof=app_entry membership_activated membership_deactivated funnel_completed conversation_deleted"`
	WhopUserID        string     `json:"whopUserId"`
	ProductID         string     `json:"productId"`
	PlanID            string     `json:"planId"`
	CompletedFunnelID *uuid.UUID `json:"completedFunnelId"`
}

type FunnelResponse struct {
	ID                uuid.UUID                 `json:"id"`
	Name              string                    `json:"name"`
	Version           int                       `json:"version"`
	IsDeployed        bool                      `json:"isDeployed"`
	IsDraft           bool                      `json:"isDraft"`
	Flow              *domain.Flow              `json:"flow,omitempty"`
	FlowError         *string                   `json:"flowError,omitempty"`
	AppTrigger        *domain.AppTrigger        `json:"appTrigger,omitempty"`
	MembershipTrigger *domain.MembershipTrigger `json:"membershipTrigger,omitempty"`
	TargetFunnelID    *uuid.UUID                `json:"targetFunnelId,omitempty"`
	CreatedAt         time.Time                 `json:"createdAt"`
	UpdatedAt         time.Time                 `json:"updatedAt"`
}

type FunnelListResponse struct {
	Items []FunnelResponse `json:"items"`
}

type PreviewResponse struct {
	Context string           `json:"context"`
	Funnels []FunnelResponse `json:"funnels"`
}

type ArchiveURLResponse struct {
	URL       string    `json:"url"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expiresAt"`
}
