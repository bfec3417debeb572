// Package orchestrator is the event boundary of the engine: it turns inbound
// app and webhook events into started conversations and replies into
// conversation progress. Failures never cross it as errors; callers get a
// stable reason code instead.
package orchestrator

import (
	"context"

	convrepo "funnel_builder_backend/internal/conversation/repository"
	convservice "funnel_builder_backend/internal/conversation/service"
	"funnel_builder_backend/internal/events"
	"funnel_builder_backend/internal/funnel/domain"
	"funnel_builder_backend/internal/trigger"
	"funnel_builder_backend/platform/apperr"
	"funnel_builder_backend/platform/logger"

	"github.com/google/uuid"
)

// Outcome summarizes what happened to an event.
type Outcome string

const (
	OutcomeStarted  Outcome = "started"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeAdvanced Outcome = "advanced"
	OutcomeFailed   Outcome = "failed"
)

// Resolver selects the funnel for an event.
type Resolver interface {
	Resolve(ctx context.Context, experienceID string, c trigger.Context, opts trigger.Options) (*domain.Funnel, error)
}

// Conversations is the conversation lifecycle the orchestrator drives.
type Conversations interface {
	EnsureNoActiveConversation(ctx context.Context, experienceID, whopUserID string) (bool, error)
	ActiveConversation(ctx context.Context, experienceID, whopUserID string) (*convrepo.Conversation, error)
	CreateConversation(ctx context.Context, experienceID, whopUserID string, f domain.Funnel, opts ...convservice.CreateOption) (convrepo.Conversation, error)
	CloseActive(ctx context.Context, experienceID, whopUserID string) (*uuid.UUID, error)
	Advance(ctx context.Context, conversationID uuid.UUID, reply string, opts ...convservice.AdvanceOption) (convservice.AdvanceResult, error)
}

// Event is a normalized inbound trigger event.
type Event struct {
	ExperienceID      string
	UserID            string
	Context           trigger.Context
	ProductID         string
	PlanID            string
	CompletedFunnelID *uuid.UUID
}

// Result reports how an event was handled.
type Result struct {
	Outcome        Outcome       `json:"outcome"`
	Reason         apperr.Reason `json:"reason,omitempty"`
	ConversationID *uuid.UUID    `json:"conversationId,omitempty"`
	FunnelID       *uuid.UUID    `json:"funnelId,omitempty"`
}

// Reply is an inbound user reply.
type Reply struct {
	ExperienceID string
	UserID       string
	Username     string
	Text         string
}

// ReplyResult reports how a reply was applied.
type ReplyResult struct {
	Outcome                Outcome       `json:"outcome"`
	Reason                 apperr.Reason `json:"reason,omitempty"`
	ConversationID         *uuid.UUID    `json:"conversationId,omitempty"`
	NextBlock              *domain.Block `json:"nextBlock,omitempty"`
	Terminal               bool          `json:"terminal"`
	Transitioned           bool          `json:"transitioned"`
	InternalConversationID *uuid.UUID    `json:"internalConversationId,omitempty"`
}

// Orchestrator coordinates trigger resolution and conversation creation.
type Orchestrator struct {
	resolver      Resolver
	conversations Conversations
	log           *logger.Logger
}

// New creates an orchestrator.
func New(resolver Resolver, conversations Conversations, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.Discard()
	}
	return &Orchestrator{resolver: resolver, conversations: conversations, log: log}
}

// HandleEvent runs guard, resolve and create for one event.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev Event) Result {
	log := o.log.WithExperience(ev.ExperienceID).WithUserID(ev.UserID)

	if ev.Context == trigger.ContextConversationDeleted {
		closed, err := o.conversations.CloseActive(ctx, ev.ExperienceID, ev.UserID)
		if err != nil {
			log.Error("orchestrator: close active conversation failed", "error", err)
			return Result{Outcome: OutcomeFailed, Reason: apperr.ReasonResolutionFailed}
		}
		if closed != nil {
			log.Info("orchestrator: active conversation closed", "conversation_id", closed.String())
		}
	}

	free, err := o.conversations.EnsureNoActiveConversation(ctx, ev.ExperienceID, ev.UserID)
	if err != nil {
		log.Error("orchestrator: active conversation check failed", "error", err, "context", string(ev.Context))
		return Result{Outcome: OutcomeFailed, Reason: apperr.ReasonResolutionFailed}
	}
	if !free {
		return Result{Outcome: OutcomeSkipped, Reason: apperr.ReasonActiveConversationExists}
	}

	funnel, err := o.resolver.Resolve(ctx, ev.ExperienceID, ev.Context, trigger.Options{
		UserID:            ev.UserID,
		ProductID:         ev.ProductID,
		PlanID:            ev.PlanID,
		CompletedFunnelID: ev.CompletedFunnelID,
	})
	if err != nil {
		log.Error("orchestrator: trigger resolution failed", "error", err, "context", string(ev.Context))
		return Result{Outcome: OutcomeFailed, Reason: apperr.ReasonResolutionFailed}
	}
	if funnel == nil {
		return Result{Outcome: OutcomeSkipped, Reason: apperr.ReasonNoMatchingFunnel}
	}

	funnelID := funnel.ID
	conv, err := o.conversations.CreateConversation(ctx, ev.ExperienceID, ev.UserID, *funnel,
		convservice.WithTriggerContext(string(ev.Context)))
	if convservice.IsLostRace(err) {
		log.Info("orchestrator: lost race to a concurrent event", "funnel_id", funnelID.String())
		return Result{Outcome: OutcomeSkipped, Reason: apperr.ReasonLostRace, FunnelID: &funnelID}
	}
	if err != nil {
		log.Error("orchestrator: create conversation failed", "error", err, "funnel_id", funnelID.String())
		return Result{Outcome: OutcomeFailed, Reason: apperr.ReasonCreateFailed, FunnelID: &funnelID}
	}

	convID := conv.ID
	log.Info("orchestrator: conversation started",
		"conversation_id", convID.String(),
		"funnel_id", funnelID.String(),
		"context", string(ev.Context),
	)
	return Result{Outcome: OutcomeStarted, ConversationID: &convID, FunnelID: &funnelID}
}

// Reply applies a user reply to the user's active conversation.
func (o *Orchestrator) Reply(ctx context.Context, r Reply) ReplyResult {
	active, err := o.conversations.ActiveConversation(ctx, r.ExperienceID, r.UserID)
	if err != nil {
		o.log.Error("orchestrator: load active conversation failed", "error", err, "experience_id", r.ExperienceID)
		return ReplyResult{Outcome: OutcomeFailed, Reason: apperr.ReasonNotFound}
	}
	if active == nil {
		return ReplyResult{Outcome: OutcomeSkipped, Reason: apperr.ReasonConversationNotActive}
	}

	convID := active.ID
	res, err := o.conversations.Advance(ctx, convID, r.Text, convservice.WithUsername(r.Username))
	out := ReplyResult{
		ConversationID:         &convID,
		NextBlock:              res.NextBlock,
		Terminal:               res.Terminal,
		Transitioned:           res.Transitioned,
		InternalConversationID: res.InternalConversationID,
	}
	if err != nil {
		out.Outcome = OutcomeFailed
		out.Reason = apperr.ReasonOf(err)
		if out.Reason == apperr.ReasonNone {
			o.log.Error("orchestrator: advance failed", "error", err, "conversation_id", convID.String())
		}
		return out
	}
	out.Outcome = OutcomeAdvanced
	return out
}

// Register subscribes the orchestrator to completion events so a finished
// funnel can chain into a funnel_completed trigger.
func (o *Orchestrator) Register(bus events.Bus) {
	bus.Subscribe(events.ConversationCompleted{}.EventName(), events.HandlerFunc(o.handleCompleted))
}

func (o *Orchestrator) handleCompleted(ctx context.Context, e events.Event) error {
	done, ok := e.(events.ConversationCompleted)
	if !ok {
		return nil
	}
	funnelID := done.FunnelID
	res := o.HandleEvent(ctx, Event{
		ExperienceID:      done.ExperienceID,
		UserID:            done.WhopUserID,
		Context:           trigger.ContextFunnelCompleted,
		CompletedFunnelID: &funnelID,
	})
	o.log.Debug("orchestrator: funnel_completed handled",
		"experience_id", done.ExperienceID,
		"completed_funnel_id", funnelID.String(),
		"outcome", string(res.Outcome),
		"reason", string(res.Reason),
	)
	return nil
}
