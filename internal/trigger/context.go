// Package trigger decides which deployed funnel, if any, starts a
// conversation for an inbound event.
package trigger

import (
	"strings"

	"funnel_builder_backend/internal/funnel/domain"

	"github.com/google/uuid"
)

// Context is the kind of event being resolved.
type Context string

const (
	ContextAppEntry              Context = "app_entry"
	ContextMembershipActivated   Context = "membership_activated"
	ContextMembershipDeactivated Context = "membership_deactivated"
	ContextFunnelCompleted       Context = "funnel_completed"
	ContextConversationDeleted   Context = "conversation_deleted"
)

// hierarchy lists trigger types per context in the order they are tried.
// The broad "any" membership triggers run before their product-scoped
// counterparts.
var hierarchy = map[Context][]domain.TriggerType{
	ContextAppEntry:              {domain.TriggerOnAppEntry, domain.TriggerNoActiveConversation},
	ContextMembershipActivated:   {domain.TriggerAnyMembershipBuy, domain.TriggerMembershipBuy},
	ContextMembershipDeactivated: {domain.TriggerAnyCancelMembership, domain.TriggerCancelMembership},
	ContextFunnelCompleted:       {domain.TriggerQualificationComplete, domain.TriggerUpsellComplete},
	ContextConversationDeleted:   {domain.TriggerNoActiveConversation},
}

// Hierarchy returns the ordered trigger types tried for c.
func Hierarchy(c Context) []domain.TriggerType {
	types := hierarchy[c]
	out := make([]domain.TriggerType, len(types))
	copy(out, types)
	return out
}

// ParseContext validates a context string.
func ParseContext(raw string) (Context, bool) {
	c := Context(strings.TrimSpace(raw))
	_, ok := hierarchy[c]
	return c, ok
}

// Options carries the event payload used during resolution.
type Options struct {
	// UserID is the Whop user whose memberships drive filter evaluation.
	UserID string
	// ProductID and PlanID come from a membership webhook. A product-scoped
	// trigger matches a resource configured with either.
	ProductID string
	PlanID    string
	// CompletedFunnelID is set for funnel_completed events.
	CompletedFunnelID *uuid.UUID
}
