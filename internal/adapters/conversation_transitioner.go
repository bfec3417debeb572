package adapters

import (
	"context"

	"github.com/google/uuid"

	convservice "funnel_builder_backend/internal/conversation/service"
	"funnel_builder_backend/internal/funnel/domain"
	"funnel_builder_backend/internal/transition"
)

// ConversationTransitioner exposes the transition engine to the conversation
// lifecycle service.
type ConversationTransitioner struct {
	engine *transition.Engine
}

// NewConversationTransitioner creates a new transitioner adapter.
func NewConversationTransitioner(engine *transition.Engine) *ConversationTransitioner {
	return &ConversationTransitioner{engine: engine}
}

// Transition runs the hand-off and reports its outcome.
func (a *ConversationTransitioner) Transition(ctx context.Context, dmConversationID uuid.UUID, target domain.Funnel, in convservice.HandoffInput) (convservice.TransitionOutcome, error) {
	res, err := a.engine.Transition(ctx, dmConversationID, target, transition.Input{Username: in.Username})
	if err != nil {
		return convservice.TransitionOutcome{}, err
	}
	return convservice.TransitionOutcome{
		InternalConversationID: res.InternalConversationID,
		AlreadyTransitioned:    res.AlreadyTransitioned,
		HandoffSent:            res.HandoffSent,
	}, nil
}

var _ convservice.Transitioner = (*ConversationTransitioner)(nil)
