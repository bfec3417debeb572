package repository

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
	StatusClosed    Status = "closed"
)

// Kind distinguishes public DM conversations from private internal ones.
type Kind string

const (
	KindDM       Kind = "dm"
	KindInternal Kind = "internal"
)

// Phase is the coarse position of a conversation in the sales journey.
type Phase string

const (
	PhaseWelcome         Phase = "welcome"
	PhaseStrategySession Phase = "strategy_session"
	PhaseTransition      Phase = "transition"
)

// Metadata is stored as JSONB on the conversation row.
type Metadata struct {
	Type                   Kind       `json:"type,omitempty"`
	Phase                  Phase      `json:"phase,omitempty"`
	TriggerContext         string     `json:"triggerContext,omitempty"`
	DMConversationID       *uuid.UUID `json:"dmConversationId,omitempty"`
	CreatedFromDM          bool       `json:"createdFromDM,omitempty"`
	InternalConversationID *uuid.UUID `json:"internalConversationId,omitempty"`
	TransitionedAt         *time.Time `json:"transitionedAt,omitempty"`
}

// Conversation is one live instantiation of a funnel for one user.
type Conversation struct {
	ID             uuid.UUID
	ExperienceID   string
	WhopUserID     string
	FunnelID       uuid.UUID
	Status         Status
	CurrentBlockID string
	UserPath       []string
	Metadata       Metadata
	LastActivityAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MessageType identifies the author of a message.
type MessageType string

const (
	MessageUser   MessageType = "user"
	MessageBot    MessageType = "bot"
	MessageSystem MessageType = "system"
)

// MessageMetadata carries provenance for copied messages and the block a
// bot message was rendered from.
type MessageMetadata struct {
	BlockID           string     `json:"blockId,omitempty"`
	OriginalMessageID *uuid.UUID `json:"originalMessageId,omitempty"`
	IsDMHistory       bool       `json:"isDMHistory,omitempty"`
}

// Message is immutable once written.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Type           MessageType
	Content        string
	Metadata       *MessageMetadata
	CreatedAt      time.Time
}

// Interaction records one option selection.
type Interaction struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	BlockID        string
	OptionText     string
	NextBlockID    *string
	CreatedAt      time.Time
}

// CreateConversationParams contains data for a new active conversation.
type CreateConversationParams struct {
	ExperienceID   string
	WhopUserID     string
	FunnelID       uuid.UUID
	CurrentBlockID string
	UserPath       []string
	Metadata       Metadata
}

// ProgressParams moves a conversation to a new position.
type ProgressParams struct {
	ID             uuid.UUID
	CurrentBlockID string
	UserPath       []string
	Status         Status
}

// MessageParams contains data for a new message.
type MessageParams struct {
	ConversationID uuid.UUID
	Type           MessageType
	Content        string
	Metadata       *MessageMetadata
}

// InteractionParams contains data for a new interaction record.
type InteractionParams struct {
	ConversationID uuid.UUID
	BlockID        string
	OptionText     string
	NextBlockID    *string
}
