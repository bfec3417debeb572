package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"funnel_builder_backend/internal/conversation/service"
	"funnel_builder_backend/internal/conversation/transport"
	"funnel_builder_backend/internal/orchestrator"
	"funnel_builder_backend/internal/trigger"
	"funnel_builder_backend/platform/httpkit"
	"funnel_builder_backend/platform/validator"
)

const (
	msgInvalidID     = "invalid conversation id"
	msgEngineMissing = "conversation engine not configured"
)

// Engine routes member events through trigger resolution.
type Engine interface {
	HandleEvent(ctx context.Context, ev orchestrator.Event) orchestrator.Result
	Reply(ctx context.Context, r orchestrator.Reply) orchestrator.ReplyResult
}

// Handler handles the member-facing app endpoints.
type Handler struct {
	svc    *service.Service
	engine Engine
	val    *validator.Validator
}

// New creates a new conversation handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// SetEngine wires the orchestrator after construction.
func (h *Handler) SetEngine(e Engine) { h.engine = e }

func (h *Handler) requireEngine(c *gin.Context) bool {
	if h.engine == nil {
		httpkit.Error(c, http.StatusServiceUnavailable, msgEngineMissing, nil)
		return false
	}
	return true
}

func (h *Handler) fire(c *gin.Context, tc trigger.Context, completed *uuid.UUID) {
	if !h.requireEngine(c) {
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	httpkit.OK(c, h.engine.HandleEvent(c.Request.Context(), orchestrator.Event{
		ExperienceID:      identity.ExperienceID(),
		UserID:            identity.UserID(),
		Context:           tc,
		CompletedFunnelID: completed,
	}))
}

// Entry fires the app_entry trigger for the caller.
// POST /api/v1/app/entry
func (h *Handler) Entry(c *gin.Context) {
	h.fire(c, trigger.ContextAppEntry, nil)
}

// FunnelCompleted fires the funnel_completed trigger.
// POST /api/v1/app/funnel-completed
func (h *Handler) FunnelCompleted(c *gin.Context) {
	var req transport.FunnelCompletedRequest
	if !httpkit.BindAndValidate(c, h.val, &req) {
		return
	}
	id := req.CompletedFunnelID
	h.fire(c, trigger.ContextFunnelCompleted, &id)
}

// ConversationDeleted closes the caller's conversation and re-runs triggers.
// POST /api/v1/app/conversations/delete
func (h *Handler) ConversationDeleted(c *gin.Context) {
	h.fire(c, trigger.ContextConversationDeleted, nil)
}

// Reply applies the caller's option choice to their active conversation.
// POST /api/v1/app/reply
func (h *Handler) Reply(c *gin.Context) {
	var req transport.ReplyRequest
	if !httpkit.BindAndValidate(c, h.val, &req) {
		return
	}
	if !h.requireEngine(c) {
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	httpkit.OK(c, h.engine.Reply(c.Request.Context(), orchestrator.Reply{
		ExperienceID: identity.ExperienceID(),
		UserID:       identity.UserID(),
		Username:     req.Username,
		Text:         req.Text,
	}))
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return uuid.Nil, false
	}
	return id, true
}

// Get returns one conversation owned by the caller.
// GET /api/v1/app/conversations/:id
func (h *Handler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	conv, err := h.svc.Get(c.Request.Context(), identity.ExperienceID(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	if conv.WhopUserID != identity.UserID() && !identity.HasRole(httpkit.RoleAdmin) {
		httpkit.Error(c, http.StatusNotFound, "conversation not found", nil)
		return
	}
	httpkit.OK(c, transport.ToConversationResponse(conv))
}

// Messages returns the transcript of a conversation owned by the caller.
// GET /api/v1/app/conversations/:id/messages
func (h *Handler) Messages(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	ctx := c.Request.Context()
	conv, err := h.svc.Get(ctx, identity.ExperienceID(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	if conv.WhopUserID != identity.UserID() && !identity.HasRole(httpkit.RoleAdmin) {
		httpkit.Error(c, http.StatusNotFound, "conversation not found", nil)
		return
	}
	msgs, err := h.svc.ListMessages(ctx, identity.ExperienceID(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToMessageResponses(msgs))
}
