package webhook

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"funnel_builder_backend/platform/apperr"
	"funnel_builder_backend/platform/httpkit"
	"funnel_builder_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderDeliveryID is used when the payload carries no delivery ID.
const HeaderDeliveryID = "X-Whop-Delivery-Id"

// Handler handles webhook HTTP requests.
type Handler struct {
	service *Service
	repo    *Repository
	val     *validator.Validator
	secret  string
}

// NewHandler creates a new webhook handler. An empty secret disables
// signature verification.
func NewHandler(service *Service, repo *Repository, val *validator.Validator, secret string) *Handler {
	return &Handler{service: service, repo: repo, val: val, secret: secret}
}

// ---- Whop deliveries (public, API-key authenticated) ----

// HandleWhopWebhook processes a Whop membership webhook. Any authenticated
// delivery is acknowledged with 200 and a reason code.
// POST /api/v1/webhook/whop
func (h *Handler) HandleWhopWebhook(c *gin.Context) {
	experienceID := c.GetString(ctxExperienceID)
	if experienceID == "" {
		httpkit.Error(c, http.StatusUnauthorized, "missing experience context", nil)
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "unable to read body", nil)
		return
	}

	if h.secret != "" && !VerifySignature(h.secret, body, c.GetHeader(HeaderSignature)) {
		httpkit.Error(c, http.StatusUnauthorized, "invalid signature", nil)
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		httpkit.OK(c, Outcome{Reason: apperr.ReasonInvalidPayload})
		return
	}
	if payload.ID == "" {
		payload.ID = c.GetHeader(HeaderDeliveryID)
	}

	httpkit.OK(c, h.service.Process(c.Request.Context(), experienceID, payload))
}

// ---- Admin API Key Management (JWT authenticated) ----

// CreateAPIKeyRequest is the request body for creating a new API key.
type CreateAPIKeyRequest struct {
	Name string `json:"name" validate:"required,min=1,max=100"`
}

// APIKeyResponse is returned when listing or creating API keys.
type APIKeyResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	KeyPrefix string    `json:"keyPrefix"`
	IsActive  bool      `json:"isActive"`
	CreatedAt string    `json:"createdAt"`
}

// CreateAPIKeyResponse includes the plaintext key (shown only once).
type CreateAPIKeyResponse struct {
	APIKeyResponse
	Key string `json:"key"` // plaintext, shown only once
}

// HandleCreateAPIKey creates a new webhook API key.
// POST /api/v1/admin/webhook/keys
func (h *Handler) HandleCreateAPIKey(c *gin.Context) {
	var req CreateAPIKeyRequest
	if !httpkit.BindAndValidate(c, h.val, &req) {
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	plaintext, hash, prefix, err := GenerateAPIKey()
	if err != nil {
		httpkit.Error(c, http.StatusInternalServerError, "failed to generate API key", nil)
		return
	}

	key, err := h.repo.Create(c.Request.Context(), identity.ExperienceID(), req.Name, hash, prefix)
	if httpkit.HandleError(c, err) {
		return
	}

	c.JSON(http.StatusCreated, CreateAPIKeyResponse{
		APIKeyResponse: toAPIKeyResponse(key),
		Key:            plaintext,
	})
}

// HandleListAPIKeys lists all webhook API keys for the experience.
// GET /api/v1/admin/webhook/keys
func (h *Handler) HandleListAPIKeys(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	keys, err := h.repo.ListByExperience(c.Request.Context(), identity.ExperienceID())
	if httpkit.HandleError(c, err) {
		return
	}

	result := make([]APIKeyResponse, len(keys))
	for i, k := range keys {
		result[i] = toAPIKeyResponse(k)
	}

	httpkit.OK(c, result)
}

// HandleRevokeAPIKey deactivates a webhook API key.
// DELETE /api/v1/admin/webhook/keys/:keyId
func (h *Handler) HandleRevokeAPIKey(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	keyID, err := uuid.Parse(c.Param("keyId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid key ID", nil)
		return
	}

	if err := h.repo.Revoke(c.Request.Context(), keyID, identity.ExperienceID()); err != nil {
		if errors.Is(err, ErrAPIKeyNotFound) {
			httpkit.Error(c, http.StatusNotFound, "API key not found", nil)
			return
		}
		httpkit.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "API key revoked"})
}

func toAPIKeyResponse(key APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:        key.ID,
		Name:      key.Name,
		KeyPrefix: key.KeyPrefix,
		IsActive:  key.IsActive,
		CreatedAt: key.CreatedAt.Format(time.RFC3339),
	}
}
