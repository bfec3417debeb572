// Package events defines the conversation and funnel events published on the
// in-process bus. The bus itself lives in platform/events.
package events

import (
	"time"

	"funnel_builder_backend/platform/events"

	"github.com/google/uuid"
)

type (
	Event       = events.Event
	Scoped      = events.Scoped
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

const Wildcard = events.Wildcard

var (
	NewBaseEvent   = events.NewBaseEvent
	NewInMemoryBus = events.NewInMemoryBus
)

// =============================================================================
// Conversation Domain Events
// =============================================================================

// ConversationStarted is published after a funnel starts a new conversation.
type ConversationStarted struct {
	BaseEvent
	ConversationID uuid.UUID `json:"conversationId"`
	ExperienceID   string    `json:"experienceId"`
	WhopUserID     string    `json:"whopUserId"`
	FunnelID       uuid.UUID `json:"funnelId"`
	TriggerContext string    `json:"triggerContext"`
}

func (e ConversationStarted) EventName() string { return "conversation.started" }
func (e ConversationStarted) Scope() (string, string) {
	return e.ExperienceID, e.ConversationID.String()
}

// ConversationAdvanced is published when a reply moves a conversation forward.
type ConversationAdvanced struct {
	BaseEvent
	ConversationID uuid.UUID `json:"conversationId"`
	ExperienceID   string    `json:"experienceId"`
	WhopUserID     string    `json:"whopUserId"`
	FromBlockID    string    `json:"fromBlockId"`
	ToBlockID      *string   `json:"toBlockId,omitempty"`
	OptionText     string    `json:"optionText"`
}

func (e ConversationAdvanced) EventName() string { return "conversation.advanced" }
func (e ConversationAdvanced) Scope() (string, string) {
	return e.ExperienceID, e.ConversationID.String()
}

// ConversationCompleted is published when a conversation reaches a terminal
// block or hands off to an internal conversation.
type ConversationCompleted struct {
	BaseEvent
	ConversationID uuid.UUID `json:"conversationId"`
	ExperienceID   string    `json:"experienceId"`
	WhopUserID     string    `json:"whopUserId"`
	FunnelID       uuid.UUID `json:"funnelId"`
	FinalBlockID   string    `json:"finalBlockId"`
}

func (e ConversationCompleted) EventName() string { return "conversation.completed" }
func (e ConversationCompleted) Scope() (string, string) {
	return e.ExperienceID, e.ConversationID.String()
}

// ConversationEnded is published when a conversation leaves the active state
// without completing (abandoned, closed).
type ConversationEnded struct {
	BaseEvent
	ConversationID uuid.UUID `json:"conversationId"`
	ExperienceID   string    `json:"experienceId"`
	WhopUserID     string    `json:"whopUserId"`
	Status         string    `json:"status"`
}

func (e ConversationEnded) EventName() string { return "conversation.ended" }
func (e ConversationEnded) Scope() (string, string) {
	return e.ExperienceID, e.ConversationID.String()
}

// ConversationTransitioned is published after a DM conversation is handed
// over to an internal strategy-session conversation.
type ConversationTransitioned struct {
	BaseEvent
	DMConversationID       uuid.UUID `json:"dmConversationId"`
	InternalConversationID uuid.UUID `json:"internalConversationId"`
	ExperienceID           string    `json:"experienceId"`
	WhopUserID             string    `json:"whopUserId"`
	TargetFunnelID         uuid.UUID `json:"targetFunnelId"`
	TransitionedAt         time.Time `json:"transitionedAt"`
	HandoffSent            bool      `json:"handoffSent"`
}

func (e ConversationTransitioned) EventName() string { return "conversation.transitioned" }
func (e ConversationTransitioned) Scope() (string, string) {
	return e.ExperienceID, e.DMConversationID.String()
}

// HandoffDMFailed is published when the hand-off DM could not be delivered
// and was queued for retry.
type HandoffDMFailed struct {
	BaseEvent
	ConversationID uuid.UUID  `json:"conversationId"`
	ExperienceID   string     `json:"experienceId"`
	WhopUserID     string     `json:"whopUserId"`
	OutboxID       *uuid.UUID `json:"outboxId,omitempty"`
	Error          string     `json:"error"`
}

func (e HandoffDMFailed) EventName() string { return "conversation.handoff_dm_failed" }
func (e HandoffDMFailed) Scope() (string, string) {
	return e.ExperienceID, e.ConversationID.String()
}

// =============================================================================
// Funnel Domain Events
// =============================================================================

// FunnelDeployed is published when a funnel version goes live.
type FunnelDeployed struct {
	BaseEvent
	FunnelID     uuid.UUID `json:"funnelId"`
	ExperienceID string    `json:"experienceId"`
	Version      int       `json:"version"`
}

func (e FunnelDeployed) EventName() string { return "funnel.deployed" }
func (e FunnelDeployed) Scope() (string, string) {
	return e.ExperienceID, e.FunnelID.String()
}

// =============================================================================
// Membership Domain Events
// =============================================================================

// MembershipChanged is published after a webhook updates a membership.
type MembershipChanged struct {
	BaseEvent
	ExperienceID     string `json:"experienceId"`
	WhopUserID       string `json:"whopUserId"`
	WhopMembershipID string `json:"whopMembershipId"`
	WhopProductID    string `json:"whopProductId,omitempty"`
	Status           string `json:"status"`
}

func (e MembershipChanged) EventName() string { return "membership.changed" }
func (e MembershipChanged) Scope() (string, string) {
	return e.ExperienceID, e.WhopMembershipID
}
