package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"funnel_builder_backend/internal/resource/service"
	"funnel_builder_backend/internal/resource/transport"
	"funnel_builder_backend/platform/httpkit"
	"funnel_builder_backend/platform/validator"
)

const msgInvalidID = "invalid resource id"

// Handler handles HTTP requests for resources.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a new resource handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// List returns the experience's resources.
// GET /api/v1/admin/resources
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

// Create registers a resource.
// POST /api/v1/admin/resources
func (h *Handler) Create(c *gin.Context) {
	var req transport.CreateResourceRequest
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

// Delete removes a resource.
// DELETE /api/v1/admin/resources/:id
func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
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
