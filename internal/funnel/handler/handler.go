package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"funnel_builder_backend/internal/funnel/service"
	"funnel_builder_backend/internal/funnel/transport"
	"funnel_builder_backend/platform/httpkit"
	"funnel_builder_backend/platform/validator"
)

const (
	msgInvalidID      = "invalid funnel id"
	msgInvalidVersion = "invalid version"
)

// Handler handles HTTP requests for funnel authoring.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a new funnel handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return uuid.Nil, false
	}
	return id, true
}

// List returns every funnel of the caller's experience.
// GET /api/v1/admin/funnels
func (h *Handler) List(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	result, err := h.svc.List(c.Request.Context(), identity.ExperienceID())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// Create stores a new draft funnel.
// POST /api/v1/admin/funnels
func (h *Handler) Create(c *gin.Context) {
	var req transport.CreateFunnelRequest
	if !httpkit.BindAndValidate(c, h.val, &req) {
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	result, err := h.svc.Create(c.Request.Context(), identity.ExperienceID(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, result)
}

// Get returns one funnel.
// GET /api/v1/admin/funnels/:id
func (h *Handler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	result, err := h.svc.Get(c.Request.Context(), identity.ExperienceID(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// UpdateFlow replaces the flow document.
// PUT /api/v1/admin/funnels/:id/flow
func (h *Handler) UpdateFlow(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req transport.UpdateFlowRequest
	if !httpkit.BindAndValidate(c, h.val, &req) {
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	result, err := h.svc.UpdateFlow(c.Request.Context(), identity.ExperienceID(), id, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// UpdateTriggers replaces the trigger configuration.
// PUT /api/v1/admin/funnels/:id/triggers
func (h *Handler) UpdateTriggers(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req transport.UpdateTriggersRequest
	if !httpkit.BindAndValidate(c, h.val, &req) {
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	result, err := h.svc.UpdateTriggers(c.Request.Context(), identity.ExperienceID(), id, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// Deploy publishes the funnel.
// POST /api/v1/admin/funnels/:id/deploy
func (h *Handler) Deploy(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	result, err := h.svc.Deploy(c.Request.Context(), identity.ExperienceID(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// Undeploy takes the funnel offline.
// POST /api/v1/admin/funnels/:id/undeploy
func (h *Handler) Undeploy(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	result, err := h.svc.Undeploy(c.Request.Context(), identity.ExperienceID(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// Delete removes the funnel.
// DELETE /api/v1/admin/funnels/:id
func (h *Handler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	if httpkit.HandleError(c, h.svc.Delete(c.Request.Context(), identity.ExperienceID(), id)) {
		return
	}
	c.Status(http.StatusNoContent)
}

// ArchiveURL presigns a download of an archived flow version.
// GET /api/v1/admin/funnels/:id/versions/:version
func (h *Handler) ArchiveURL(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidVersion, nil)
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	result, err := h.svc.ArchiveURL(c.Request.Context(), identity.ExperienceID(), id, version)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// Preview lists funnels that could fire for an event.
// POST /api/v1/admin/funnels/preview
func (h *Handler) Preview(c *gin.Context) {
	var req transport.PreviewRequest
	if !httpkit.BindAndValidate(c, h.val, &req) {
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	result, err := h.svc.Preview(c.Request.Context(), identity.ExperienceID(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}
