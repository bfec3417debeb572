package transport

import (
	"time"

	"funnel_builder_backend/internal/conversation/repository"

	"github.com/google/uuid"
)

// FunnelCompletedRequest reports a completed funnel from the client side.
type FunnelCompletedRequest struct {
	CompletedFunnelID uuid.UUID `json:"completedFunnelId" validate:"required"`
}

// ReplyRequest carries the option text the member picked.
type ReplyRequest struct {
	Text     string `json:"text" validate:"required,max=500"`
	Username string `json:"username" validate:"omitempty,max=100"`
}

type MessageResponse struct {
	ID          uuid.UUID  `json:"id"`
	Type        string     `json:"type"`
	Content     string     `json:"content"`
	BlockID     string     `json:"blockId,omitempty"`
	OriginalID  *uuid.UUID `json:"originalMessageId,omitempty"`
	IsDMHistory bool       `json:"isDMHistory,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

type ConversationResponse struct {
	ID                     uuid.UUID  `json:"id"`
	FunnelID               uuid.UUID  `json:"funnelId"`
	Status                 string     `json:"status"`
	Kind                   string     `json:"type,omitempty"`
	Phase                  string     `json:"phase,omitempty"`
	CurrentBlockID         string     `json:"currentBlockId"`
	UserPath               []string   `json:"userPath"`
	TriggerContext         string     `json:"triggerContext,omitempty"`
	DMConversationID       *uuid.UUID `json:"dmConversationId,omitempty"`
	InternalConversationID *uuid.UUID `json:"internalConversationId,omitempty"`
	LastActivityAt         time.Time  `json:"lastActivityAt"`
	CreatedAt              time.Time  `json:"createdAt"`
}

func ToConversationResponse(c repository.Conversation) ConversationResponse {
	path := c.UserPath
	if path == nil {
		path = []string{}
	}
	return ConversationResponse{
		ID:                     c.ID,
		FunnelID:               c.FunnelID,
		Status:                 string(c.Status),
		Kind:                   string(c.Metadata.Type),
		Phase:                  string(c.Metadata.Phase),
		CurrentBlockID:         c.CurrentBlockID,
		UserPath:               path,
		TriggerContext:         c.Metadata.TriggerContext,
		DMConversationID:       c.Metadata.DMConversationID,
		InternalConversationID: c.Metadata.InternalConversationID,
		LastActivityAt:         c.LastActivityAt,
		CreatedAt:              c.CreatedAt,
	}
}

func ToMessageResponses(msgs []repository.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		r := MessageResponse{
			ID:        m.ID,
			Type:      string(m.Type),
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		}
		if m.Metadata != nil {
			r.BlockID = m.Metadata.BlockID
			r.OriginalID = m.Metadata.OriginalMessageID
			r.IsDMHistory = m.Metadata.IsDMHistory
		}
		out = append(out, r)
	}
	return out
}
