package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ActiveConversationIndex is the partial unique index guarding the
// one-active-conversation-per-user invariant.
const ActiveConversationIndex = "conversations_one_active_per_user"

// ErrActiveConversationExists is returned by InsertConversation when the
// user already has an active conversation in the experience.
var ErrActiveConversationExists = errors.New("active conversation already exists")

// Store is the set of conversation queries. It is satisfied both by the
// pool-backed repository and by a transaction-scoped view of it.
type Store interface {
	InsertConversation(ctx context.Context, params CreateConversationParams) (Conversation, error)
	GetConversation(ctx context.Context, id uuid.UUID) (Conversation, error)
	// GetConversationForUpdate locks the row until the surrounding
	// transaction ends.
	GetConversationForUpdate(ctx context.Context, id uuid.UUID) (Conversation, error)
	// FindActive returns nil when the user has no active conversation.
	FindActive(ctx context.Context, experienceID, whopUserID string) (*Conversation, error)
	UpdateProgress(ctx context.Context, params ProgressParams) error
	// UpdateStatusIfActive returns false when the conversation was no longer active.
	UpdateStatusIfActive(ctx context.Context, id uuid.UUID, status Status) (bool, error)
	UpdateStatusAndMetadata(ctx context.Context, id uuid.UUID, status Status, md Metadata) error
	ListIdleActive(ctx context.Context, before time.Time, limit int) ([]Conversation, error)

	InsertMessage(ctx context.Context, params MessageParams) (Message, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]Message, error)

	InsertInteraction(ctx context.Context, params InteractionParams) (Interaction, error)
	ListInteractions(ctx context.Context, conversationID uuid.UUID) ([]Interaction, error)
}

// Repository is a Store that can also run a unit of work atomically.
type Repository interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}
