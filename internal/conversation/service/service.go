// Package service implements the conversation lifecycle: creation under the
// one-active-conversation rule, advancing through the funnel graph, and
// ending conversations.
package service

import (
	"context"
	"errors"
	"time"

	"funnel_builder_backend/internal/conversation/repository"
	"funnel_builder_backend/internal/events"
	"funnel_builder_backend/internal/funnel/domain"
	"funnel_builder_backend/platform/apperr"
	"funnel_builder_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	opCreate  = "conversation.service.create"
	opAdvance = "conversation.service.advance"
	opEnd     = "conversation.service.end"
	opGet     = "conversation.service.get"
)

// FunnelReader loads the funnel a conversation runs on.
type FunnelReader interface {
	GetFunnel(ctx context.Context, experienceID string, id uuid.UUID) (domain.Funnel, error)
}

// HandoffInput personalizes the hand-off message of a transition.
type HandoffInput struct {
	Username string
}

// TransitionOutcome describes a completed hand-off.
type TransitionOutcome struct {
	InternalConversationID uuid.UUID
	AlreadyTransitioned    bool
	HandoffSent            bool
}

// Transitioner hands a DM conversation over to an internal conversation.
type Transitioner interface {
	Transition(ctx context.Context, dmConversationID uuid.UUID, target domain.Funnel, in HandoffInput) (TransitionOutcome, error)
}

// AdvanceResult is the outcome of one reply.
type AdvanceResult struct {
	ConversationID uuid.UUID
	// NextBlock is nil when the selected option ended the conversation.
	NextBlock              *domain.Block
	Terminal               bool
	Transitioned           bool
	InternalConversationID *uuid.UUID
}

// Service provides conversation lifecycle operations.
type Service struct {
	repo         repository.Repository
	funnels      FunnelReader
	transitioner Transitioner
	eventBus     events.Bus
	log          *logger.Logger
	now          func() time.Time
}

// New creates a new conversation service.
func New(repo repository.Repository, funnels FunnelReader, eventBus events.Bus, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Discard()
	}
	return &Service{
		repo:     repo,
		funnels:  funnels,
		eventBus: eventBus,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetTransitioner wires the hand-off engine. Without it TRANSITION-stage
// blocks behave like ordinary blocks.
func (s *Service) SetTransitioner(t Transitioner) { s.transitioner = t }

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.eventBus != nil {
		s.eventBus.Publish(ctx, event)
	}
}

// EnsureNoActiveConversation reports whether the user is free to start a
// new conversation. The answer is advisory; CreateConversation still
// enforces the rule atomically.
func (s *Service) EnsureNoActiveConversation(ctx context.Context, experienceID, whopUserID string) (bool, error) {
	active, err := s.repo.FindActive(ctx, experienceID, whopUserID)
	if err != nil {
		return false, err
	}
	return active == nil, nil
}

// ActiveConversation returns the user's active conversation, or nil.
func (s *Service) ActiveConversation(ctx context.Context, experienceID, whopUserID string) (*repository.Conversation, error) {
	return s.repo.FindActive(ctx, experienceID, whopUserID)
}

// CreateOption customizes a new conversation.
type CreateOption func(*repository.Metadata)

// WithTriggerContext records which event started the conversation.
func WithTriggerContext(c string) CreateOption {
	return func(md *repository.Metadata) { md.TriggerContext = c }
}

// CreateConversation starts f for the user at its start block and emits the
// start block's message. A concurrent winner surfaces as a lost_race
// conflict and is never retried here.
func (s *Service) CreateConversation(ctx context.Context, experienceID, whopUserID string, f domain.Funnel, opts ...CreateOption) (repository.Conversation, error) {
	if !f.HasValidFlow() {
		return repository.Conversation{}, errInvalidFlow(opCreate, "funnel has no valid start block")
	}
	start, _ := f.Flow.StartBlock()

	md := repository.Metadata{Type: repository.KindDM, Phase: repository.PhaseWelcome}
	for _, opt := range opts {
		opt(&md)
	}

	var conv repository.Conversation
	err := s.repo.WithTx(ctx, func(st repository.Store) error {
		c, err := st.InsertConversation(ctx, repository.CreateConversationParams{
			ExperienceID:   experienceID,
			WhopUserID:     whopUserID,
			FunnelID:       f.ID,
			CurrentBlockID: start.ID,
			UserPath:       []string{start.ID},
			Metadata:       md,
		})
		if err != nil {
			return err
		}
		if _, err := st.InsertMessage(ctx, repository.MessageParams{
			ConversationID: c.ID,
			Type:           repository.MessageBot,
			Content:        start.Message,
			Metadata:       &repository.MessageMetadata{BlockID: start.ID},
		}); err != nil {
			return err
		}
		conv = c
		return nil
	})
	if errors.Is(err, repository.ErrActiveConversationExists) {
		return repository.Conversation{}, errLostRace(opCreate, err)
	}
	if err != nil {
		return repository.Conversation{}, apperr.Wrap(apperr.KindInternal, "create conversation failed", err).
			WithReason(apperr.ReasonCreateFailed).WithOp(opCreate)
	}

	s.publish(ctx, events.ConversationStarted{
		BaseEvent:      events.NewBaseEvent(),
		ConversationID: conv.ID,
		ExperienceID:   conv.ExperienceID,
		WhopUserID:     conv.WhopUserID,
		FunnelID:       conv.FunnelID,
		TriggerContext: md.TriggerContext,
	})
	return conv, nil
}

type advanceOptions struct {
	handoff HandoffInput
}

// AdvanceOption customizes one Advance call.
type AdvanceOption func(*advanceOptions)

// WithUsername supplies the display name used in the hand-off message.
func WithUsername(name string) AdvanceOption {
	return func(o *advanceOptions) { o.handoff.Username = name }
}

// Advance applies the user's reply to the conversation's current block.
// The reply must equal an option's text exactly, except on a DM whose
// hand-off is still outstanding, where any reply retries the transition.
// Replies against a conversation that is no longer active fail with a
// conversation_not_active conflict and change nothing.
func (s *Service) Advance(ctx context.Context, conversationID uuid.UUID, reply string, opts ...AdvanceOption) (AdvanceResult, error) {
	var o advanceOptions
	for _, opt := range opts {
		opt(&o)
	}

	res := AdvanceResult{ConversationID: conversationID}
	var (
		conv          repository.Conversation
		funnel        domain.Funnel
		fromBlock     string
		chosen        domain.Option
		advanced      bool
		transitionDue bool
	)

	err := s.repo.WithTx(ctx, func(st repository.Store) error {
		c, err := st.GetConversationForUpdate(ctx, conversationID)
		if err != nil {
			return err
		}
		if c.Status != repository.StatusActive {
			return errNotActive(opAdvance)
		}

		f, err := s.funnels.GetFunnel(ctx, c.ExperienceID, c.FunnelID)
		if err != nil {
			return err
		}
		if f.Flow == nil {
			return errInvalidFlow(opAdvance, "conversation funnel has an invalid flow")
		}
		block, ok := f.Flow.Block(c.CurrentBlockID)
		if !ok {
			return errInvalidFlow(opAdvance, "current block is missing from the funnel flow")
		}
		conv, funnel, fromBlock = c, f, block.ID

		// A DM resting on a TRANSITION block is waiting for its hand-off;
		// any reply retries it.
		pending := s.handsOff(c, f, block.ID)
		opt, ok := block.MatchOption(reply)
		if !ok {
			if pending {
				transitionDue = true
				return nil
			}
			return errOptionNotFound(opAdvance, reply)
		}

		if _, err := st.InsertMessage(ctx, repository.MessageParams{
			ConversationID: c.ID,
			Type:           repository.MessageUser,
			Content:        reply,
		}); err != nil {
			return err
		}
		if _, err := st.InsertInteraction(ctx, repository.InteractionParams{
			ConversationID: c.ID,
			BlockID:        block.ID,
			OptionText:     opt.Text,
			NextBlockID:    opt.NextBlockID,
		}); err != nil {
			return err
		}
		chosen, advanced = opt, true

		if opt.NextBlockID == nil {
			if pending {
				transitionDue = true
				return nil
			}
			res.Terminal = true
			return st.UpdateProgress(ctx, repository.ProgressParams{
				ID:             c.ID,
				CurrentBlockID: c.CurrentBlockID,
				UserPath:       c.UserPath,
				Status:         repository.StatusCompleted,
			})
		}

		next, ok := f.Flow.Block(*opt.NextBlockID)
		if !ok {
			return errInvalidFlow(opAdvance, "option targets a missing block")
		}

		status := repository.StatusActive
		switch {
		case s.handsOff(c, f, next.ID):
			transitionDue = true
		case next.IsTerminal():
			status = repository.StatusCompleted
			res.Terminal = true
		}

		if err := st.UpdateProgress(ctx, repository.ProgressParams{
			ID:             c.ID,
			CurrentBlockID: next.ID,
			UserPath:       append(append([]string(nil), c.UserPath...), next.ID),
			Status:         status,
		}); err != nil {
			return err
		}
		if _, err := st.InsertMessage(ctx, repository.MessageParams{
			ConversationID: c.ID,
			Type:           repository.MessageBot,
			Content:        next.Message,
			Metadata:       &repository.MessageMetadata{BlockID: next.ID},
		}); err != nil {
			return err
		}
		res.NextBlock = &next
		return nil
	})
	if err != nil {
		return AdvanceResult{}, err
	}

	if advanced {
		s.publish(ctx, events.ConversationAdvanced{
			BaseEvent:      events.NewBaseEvent(),
			ConversationID: conv.ID,
			ExperienceID:   conv.ExperienceID,
			WhopUserID:     conv.WhopUserID,
			FromBlockID:    fromBlock,
			ToBlockID:      chosen.NextBlockID,
			OptionText:     chosen.Text,
		})
	}

	if res.Terminal {
		final := conv.CurrentBlockID
		if res.NextBlock != nil {
			final = res.NextBlock.ID
		}
		s.publish(ctx, events.ConversationCompleted{
			BaseEvent:      events.NewBaseEvent(),
			ConversationID: conv.ID,
			ExperienceID:   conv.ExperienceID,
			WhopUserID:     conv.WhopUserID,
			FunnelID:       conv.FunnelID,
			FinalBlockID:   final,
		})
		return res, nil
	}

	if !transitionDue {
		return res, nil
	}

	target := funnel
	if funnel.TargetFunnelID != nil && *funnel.TargetFunnelID != funnel.ID {
		target, err = s.funnels.GetFunnel(ctx, conv.ExperienceID, *funnel.TargetFunnelID)
		if err != nil {
			s.log.Error("conversation: load transition target failed", "error", err,
				"conversation_id", conv.ID.String(), "funnel_id", funnel.TargetFunnelID.String())
			return res, err
		}
	}

	out, err := s.transitioner.Transition(ctx, conv.ID, target, o.handoff)
	if err != nil {
		return res, err
	}
	internalID := out.InternalConversationID
	res.Terminal = true
	res.Transitioned = true
	res.InternalConversationID = &internalID
	return res, nil
}

// handsOff reports whether reaching blockID moves conversation c into the
// private strategy session. Only public DM conversations are handed off;
// elsewhere TRANSITION blocks behave like any other block.
func (s *Service) handsOff(c repository.Conversation, f domain.Funnel, blockID string) bool {
	return s.transitioner != nil &&
		c.Metadata.Type == repository.KindDM &&
		f.Flow.InStage(blockID, domain.StageTransition)
}

// Abandon ends an active conversation on the user's behalf.
func (s *Service) Abandon(ctx context.Context, conversationID uuid.UUID) error {
	return s.end(ctx, conversationID, repository.StatusAbandoned)
}

// Close ends an active conversation administratively.
func (s *Service) Close(ctx context.Context, conversationID uuid.UUID) error {
	return s.end(ctx, conversationID, repository.StatusClosed)
}

// CloseActive closes the user's active conversation, if any, and returns
// its ID.
func (s *Service) CloseActive(ctx context.Context, experienceID, whopUserID string) (*uuid.UUID, error) {
	active, err := s.repo.FindActive(ctx, experienceID, whopUserID)
	if err != nil || active == nil {
		return nil, err
	}
	if err := s.end(ctx, active.ID, repository.StatusClosed); err != nil {
		if IsNotActive(err) {
			return nil, nil
		}
		return nil, err
	}
	return &active.ID, nil
}

func (s *Service) end(ctx context.Context, conversationID uuid.UUID, status repository.Status) error {
	c, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	ok, err := s.repo.UpdateStatusIfActive(ctx, conversationID, status)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "end conversation failed", err).WithOp(opEnd)
	}
	if !ok {
		return errNotActive(opEnd)
	}
	s.publish(ctx, events.ConversationEnded{
		BaseEvent:      events.NewBaseEvent(),
		ConversationID: c.ID,
		ExperienceID:   c.ExperienceID,
		WhopUserID:     c.WhopUserID,
		Status:         string(status),
	})
	return nil
}

// SweepIdle abandons active conversations idle for longer than idleFor and
// returns how many were ended.
func (s *Service) SweepIdle(ctx context.Context, idleFor time.Duration, limit int) (int, error) {
	idle, err := s.repo.ListIdleActive(ctx, s.now().Add(-idleFor), limit)
	if err != nil {
		return 0, err
	}
	ended := 0
	for _, c := range idle {
		if err := s.end(ctx, c.ID, repository.StatusAbandoned); err != nil {
			if IsNotActive(err) {
				continue
			}
			s.log.Error("conversation: abandon idle conversation failed", "error", err, "conversation_id", c.ID.String())
			continue
		}
		ended++
	}
	return ended, nil
}

// Get returns a conversation of the experience.
func (s *Service) Get(ctx context.Context, experienceID string, id uuid.UUID) (repository.Conversation, error) {
	c, err := s.repo.GetConversation(ctx, id)
	if err != nil {
		return repository.Conversation{}, err
	}
	if c.ExperienceID != experienceID {
		return repository.Conversation{}, apperr.NotFound("conversation not found").WithOp(opGet)
	}
	return c, nil
}

// ListMessages returns a conversation's messages in creation order.
func (s *Service) ListMessages(ctx context.Context, experienceID string, id uuid.UUID) ([]repository.Message, error) {
	if _, err := s.Get(ctx, experienceID, id); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, id)
}

// ListInteractions returns a conversation's option selections in order.
func (s *Service) ListInteractions(ctx context.Context, experienceID string, id uuid.UUID) ([]repository.Interaction, error) {
	if _, err := s.Get(ctx, experienceID, id); err != nil {
		return nil, err
	}
	return s.repo.ListInteractions(ctx, id)
}
