// Package transition hands a finished public DM conversation over to a
// private strategy-session conversation.
package transition

import (
	"context"
	"errors"
	"time"

	"funnel_builder_backend/internal/conversation/repository"
	"funnel_builder_backend/internal/events"
	"funnel_builder_backend/internal/funnel/domain"
	"funnel_builder_backend/internal/outbox"
	"funnel_builder_backend/platform/apperr"
	"funnel_builder_backend/platform/logger"

	"github.com/google/uuid"
)

const opTransition = "transition.engine.transition"

// ErrNotDMConversation means the source is not a public DM conversation.
// Internal conversations are never handed off again.
var ErrNotDMConversation = errors.New("only dm conversations can be transitioned")

func errNotDM(c repository.Conversation) error {
	return apperr.Wrap(apperr.KindConflict, "conversation is not a dm conversation", ErrNotDMConversation).
		WithReason(apperr.ReasonPreconditionFailed).WithOp(opTransition).
		WithDetails(map[string]string{"conversation_id": c.ID.String(), "type": string(c.Metadata.Type)})
}

// ErrMissingQualificationStage means the target funnel has no usable
// EXPERIENCE_QUALIFICATION stage to start the internal conversation at.
var ErrMissingQualificationStage = errors.New("target funnel has no EXPERIENCE_QUALIFICATION block")

// DirectMessenger delivers a DM to a Whop user.
type DirectMessenger interface {
	SendDirectMessage(ctx context.Context, experienceID, userID, text string) error
}

// OutboxWriter queues a DM for asynchronous delivery.
type OutboxWriter interface {
	Insert(ctx context.Context, p outbox.InsertParams) (uuid.UUID, error)
}

// FunnelReader loads the source funnel for hand-off personalization.
type FunnelReader interface {
	GetFunnel(ctx context.Context, experienceID string, id uuid.UUID) (domain.Funnel, error)
}

// Input personalizes the hand-off message.
type Input struct {
	Username string
}

// Result describes the hand-off.
type Result struct {
	InternalConversationID uuid.UUID
	AlreadyTransitioned    bool
	CopiedMessages         int
	HandoffMessage         string
	HandoffSent            bool
	OutboxID               *uuid.UUID
}

// Engine performs DM-to-internal transitions.
type Engine struct {
	repo      repository.Repository
	funnels   FunnelReader
	messenger DirectMessenger
	outbox    OutboxWriter
	eventBus  events.Bus
	log       *logger.Logger
	baseURL   string
	template  string
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithOutbox queues failed hand-off DMs for retry.
func WithOutbox(w OutboxWriter) Option {
	return func(e *Engine) { e.outbox = w }
}

// WithClock overrides the transition timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a transition engine. baseURL and template come from
// configuration; messenger may be nil, in which case no DM is sent.
func NewEngine(repo repository.Repository, funnels FunnelReader, messenger DirectMessenger, eventBus events.Bus, log *logger.Logger, baseURL, template string, opts ...Option) *Engine {
	if log == nil {
		log = logger.Discard()
	}
	e := &Engine{
		repo:      repo,
		funnels:   funnels,
		messenger: messenger,
		eventBus:  eventBus,
		log:       log,
		baseURL:   baseURL,
		template:  template,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Transition completes the DM conversation, creates the internal
// conversation at the target funnel's first EXPERIENCE_QUALIFICATION block
// with the DM history copied in, and sends the hand-off DM. Repeating the
// call for an already transitioned conversation returns the existing
// internal conversation without side effects. A failed DM never unwinds
// the transition.
func (e *Engine) Transition(ctx context.Context, dmConversationID uuid.UUID, target domain.Funnel, in Input) (*Result, error) {
	source, err := e.repo.GetConversation(ctx, dmConversationID)
	if err != nil {
		return nil, err
	}
	if source.Metadata.InternalConversationID != nil {
		return &Result{InternalConversationID: *source.Metadata.InternalConversationID, AlreadyTransitioned: true}, nil
	}
	if source.Metadata.Type != repository.KindDM {
		return nil, errNotDM(source)
	}

	if target.Flow == nil {
		return nil, apperr.Internal("target funnel has an invalid flow").
			WithReason(apperr.ReasonInvalidFlow).WithOp(opTransition)
	}
	entry, ok := target.Flow.FirstBlockOfStage(domain.StageExperienceQualification)
	if !ok {
		e.log.Error("transition: target funnel lacks qualification stage",
			"funnel_id", target.ID.String(),
			"stage", domain.StageExperienceQualification,
			"conversation_id", dmConversationID.String(),
		)
		return nil, apperr.Wrap(apperr.KindInternal, "cannot start internal conversation", ErrMissingQualificationStage).
			WithReason(apperr.ReasonPreconditionFailed).WithOp(opTransition)
	}

	res := &Result{}
	transitionedAt := e.now()
	var interactions []repository.Interaction

	err = e.repo.WithTx(ctx, func(st repository.Store) error {
		src, err := st.GetConversationForUpdate(ctx, dmConversationID)
		if err != nil {
			return err
		}
		if src.Metadata.InternalConversationID != nil {
			res.InternalConversationID = *src.Metadata.InternalConversationID
			res.AlreadyTransitioned = true
			return nil
		}
		if src.Metadata.Type != repository.KindDM {
			return errNotDM(src)
		}
		source = src

		history, err := st.ListMessages(ctx, src.ID)
		if err != nil {
			return err
		}
		interactions, err = st.ListInteractions(ctx, src.ID)
		if err != nil {
			return err
		}

		// The source must leave the active state before the internal
		// conversation for the same user can be inserted.
		md := src.Metadata
		md.Phase = repository.PhaseTransition
		md.TransitionedAt = &transitionedAt
		if err := st.UpdateStatusAndMetadata(ctx, src.ID, repository.StatusCompleted, md); err != nil {
			return err
		}

		dmID := src.ID
		internal, err := st.InsertConversation(ctx, repository.CreateConversationParams{
			ExperienceID:   src.ExperienceID,
			WhopUserID:     src.WhopUserID,
			FunnelID:       target.ID,
			CurrentBlockID: entry.ID,
			UserPath:       []string{entry.ID},
			Metadata: repository.Metadata{
				Type:             repository.KindInternal,
				Phase:            repository.PhaseStrategySession,
				TriggerContext:   src.Metadata.TriggerContext,
				DMConversationID: &dmID,
				CreatedFromDM:    true,
			},
		})
		if err != nil {
			return err
		}

		for _, m := range history {
			originalID := m.ID
			copied := &repository.MessageMetadata{OriginalMessageID: &originalID, IsDMHistory: true}
			if m.Metadata != nil {
				copied.BlockID = m.Metadata.BlockID
			}
			if _, err := st.InsertMessage(ctx, repository.MessageParams{
				ConversationID: internal.ID,
				Type:           m.Type,
				Content:        m.Content,
				Metadata:       copied,
			}); err != nil {
				return err
			}
		}

		if _, err := st.InsertMessage(ctx, repository.MessageParams{
			ConversationID: internal.ID,
			Type:           repository.MessageBot,
			Content:        domain.RenderNumberedOptions(entry),
			Metadata:       &repository.MessageMetadata{BlockID: entry.ID},
		}); err != nil {
			return err
		}

		internalID := internal.ID
		md.InternalConversationID = &internalID
		if err := st.UpdateStatusAndMetadata(ctx, src.ID, repository.StatusCompleted, md); err != nil {
			return err
		}

		res.InternalConversationID = internal.ID
		res.CopiedMessages = len(history)
		return nil
	})
	if errors.Is(err, repository.ErrActiveConversationExists) {
		return nil, apperr.Wrap(apperr.KindConflict, "user already has an active conversation", err).
			WithReason(apperr.ReasonLostRace).WithOp(opTransition)
	}
	if err != nil {
		return nil, err
	}
	if res.AlreadyTransitioned {
		return res, nil
	}

	e.handoff(ctx, source, target, in, interactions, res)

	if e.eventBus != nil {
		e.eventBus.Publish(ctx, events.ConversationTransitioned{
			BaseEvent:              events.NewBaseEvent(),
			DMConversationID:       source.ID,
			InternalConversationID: res.InternalConversationID,
			ExperienceID:           source.ExperienceID,
			WhopUserID:             source.WhopUserID,
			TargetFunnelID:         target.ID,
			TransitionedAt:         transitionedAt,
			HandoffSent:            res.HandoffSent,
		})
	}
	return res, nil
}

func (e *Engine) handoff(ctx context.Context, source repository.Conversation, target domain.Funnel, in Input, interactions []repository.Interaction, res *Result) {
	flow := target.Flow
	if source.FunnelID != target.ID && e.funnels != nil {
		f, err := e.funnels.GetFunnel(ctx, source.ExperienceID, source.FunnelID)
		if err != nil {
			e.log.Warn("transition: load source funnel failed", "error", err, "funnel_id", source.FunnelID.String())
			flow = nil
		} else {
			flow = f.Flow
		}
	}
	level, value := selections(flow, interactions)

	res.HandoffMessage = RenderHandoff(e.template, HandoffValues{
		Link:            ConversationLink(e.baseURL, source.ExperienceID, res.InternalConversationID.String()),
		Username:        in.Username,
		ExperienceLevel: level,
		SelectedValue:   value,
	})

	if e.messenger == nil {
		e.log.Debug("transition: no messenger configured, hand-off DM skipped", "conversation_id", source.ID.String())
		return
	}

	sendErr := e.messenger.SendDirectMessage(ctx, source.ExperienceID, source.WhopUserID, res.HandoffMessage)
	if sendErr == nil {
		res.HandoffSent = true
		return
	}

	e.log.Error("transition: handoff send failed",
		"error", sendErr,
		"reason", string(apperr.ReasonHandoffSendFailed),
		"conversation_id", source.ID.String(),
		"internal_conversation_id", res.InternalConversationID.String(),
	)

	if e.outbox != nil {
		msg := sendErr.Error()
		internalID := res.InternalConversationID
		id, err := e.outbox.Insert(ctx, outbox.InsertParams{
			ExperienceID:   source.ExperienceID,
			WhopUserID:     source.WhopUserID,
			ConversationID: &internalID,
			Kind:           outbox.KindHandoffDM,
			Content:        res.HandoffMessage,
			LastError:      &msg,
		})
		if err != nil {
			e.log.Error("transition: queue handoff retry failed", "error", err, "conversation_id", source.ID.String())
		} else {
			res.OutboxID = &id
		}
	}

	if e.eventBus != nil {
		e.eventBus.Publish(ctx, events.HandoffDMFailed{
			BaseEvent:      events.NewBaseEvent(),
			ConversationID: res.InternalConversationID,
			ExperienceID:   source.ExperienceID,
			WhopUserID:     source.WhopUserID,
			OutboxID:       res.OutboxID,
			Error:          sendErr.Error(),
		})
	}
}
