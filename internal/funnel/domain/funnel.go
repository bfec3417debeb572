// Package domain holds the funnel graph, funnel and trigger types shared by
// the funnel, trigger, conversation and transition packages.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// TriggerType identifies a configured trigger rule.
type TriggerType string

const (
	TriggerOnAppEntry            TriggerType = "on_app_entry"
	TriggerNoActiveConversation  TriggerType = "no_active_conversation"
	TriggerQualificationComplete TriggerType = "qualification_complete"
	TriggerUpsellComplete        TriggerType = "upsell_complete"
	TriggerAnyMembershipBuy      TriggerType = "any_membership_buy"
	TriggerMembershipBuy         TriggerType = "membership_buy"
	TriggerAnyCancelMembership   TriggerType = "any_cancel_membership"
	TriggerCancelMembership      TriggerType = "cancel_membership"
)

// AppTriggerTypes are valid for Funnel.AppTrigger.
var AppTriggerTypes = []TriggerType{
	TriggerOnAppEntry, TriggerNoActiveConversation, TriggerQualificationComplete, TriggerUpsellComplete,
}

// MembershipTriggerTypes are valid for Funnel.MembershipTrigger.
var MembershipTriggerTypes = []TriggerType{
	TriggerAnyMembershipBuy, TriggerMembershipBuy, TriggerAnyCancelMembership, TriggerCancelMembership,
}

// IsProductScoped reports whether the trigger fires only for one product.
func (t TriggerType) IsProductScoped() bool {
	return t == TriggerMembershipBuy || t == TriggerCancelMembership
}

// IsCompletionChained reports whether the trigger requires an explicit
// completed-funnel reference.
func (t TriggerType) IsCompletionChained() bool {
	return t == TriggerQualificationComplete || t == TriggerUpsellComplete
}

// IsMembership reports whether t belongs to the membership trigger family.
func (t TriggerType) IsMembership() bool {
	for _, m := range MembershipTriggerTypes {
		if m == t {
			return true
		}
	}
	return false
}

// ResourceFilter restricts a trigger by the member's owned resources.
type ResourceFilter struct {
	Required []uuid.UUID `json:"required,omitempty"`
	Excluded []uuid.UUID `json:"excluded,omitempty"`
}

// AppTrigger fires on in-app events.
type AppTrigger struct {
	Type              TriggerType     `json:"type"`
	Filter            *ResourceFilter `json:"filter,omitempty"`
	CompletedFunnelID *uuid.UUID      `json:"completedFunnelId,omitempty"`
}

// MembershipTrigger fires on membership webhooks.
type MembershipTrigger struct {
	Type       TriggerType     `json:"type"`
	Filter     *ResourceFilter `json:"filter,omitempty"`
	ResourceID *uuid.UUID      `json:"resourceId,omitempty"`
}

// Funnel is a tenant-owned conversation script with its trigger
// configuration. Flow is nil when the stored document failed validation.
type Funnel struct {
	ID                uuid.UUID
	ExperienceID      string
	Name              string
	Flow              *Flow
	FlowError         error
	Version           int
	IsDeployed        bool
	IsDraft           bool
	AppTrigger        *AppTrigger
	MembershipTrigger *MembershipTrigger
	// TargetFunnelID names the private funnel a TRANSITION hands off to.
	TargetFunnelID *uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TriggerMatch is the trigger configuration relevant to one trigger type.
type TriggerMatch struct {
	Type              TriggerType
	Filter            *ResourceFilter
	ResourceID        *uuid.UUID
	CompletedFunnelID *uuid.UUID
}

// TriggerFor returns the funnel's trigger configuration for t, if any.
func (f Funnel) TriggerFor(t TriggerType) (TriggerMatch, bool) {
	if f.AppTrigger != nil && f.AppTrigger.Type == t {
		return TriggerMatch{
			Type:              t,
			Filter:            f.AppTrigger.Filter,
			CompletedFunnelID: f.AppTrigger.CompletedFunnelID,
		}, true
	}
	if f.MembershipTrigger != nil && f.MembershipTrigger.Type == t {
		return TriggerMatch{
			Type:       t,
			Filter:     f.MembershipTrigger.Filter,
			ResourceID: f.MembershipTrigger.ResourceID,
		}, true
	}
	return TriggerMatch{}, false
}

// HasValidFlow reports whether the funnel can start a conversation.
func (f Funnel) HasValidFlow() bool {
	if f.Flow == nil || f.Flow.StartBlockID == "" {
		return false
	}
	_, ok := f.Flow.StartBlock()
	return ok
}
