// This file defines the module that encapsulates all webhook setup and route registration.

package webhook

import (
	apphttp "funnel_builder_backend/internal/http"
	"funnel_builder_backend/platform/config"
	"funnel_builder_backend/platform/httpkit"
	"funnel_builder_backend/platform/logger"
	"funnel_builder_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Module is the webhook bounded context module implementing http.Module.
type Module struct {
	handler *Handler
	repo    *Repository
	limiter *httpkit.RateLimiter
}

// NewModule creates and initializes the webhook module with all its dependencies.
// Deliveries are deduplicated in Redis when rdb is non-nil, otherwise in Postgres.
func NewModule(pool *pgxpool.Pool, rdb *redis.Client, memberships MembershipRecorder, events EventHandler, cfg config.WebhookConfig, val *validator.Validator, log *logger.Logger) *Module {
	repo := NewRepository(pool)

	var deduper Deduper = repo
	if rdb != nil {
		deduper = NewRedisDeduper(rdb, cfg.GetWebhookDedupTTL())
	}

	service := NewService(deduper, memberships, events, log)
	return &Module{
		handler: NewHandler(service, repo, val, cfg.GetWhopWebhookSecret()),
		repo:    repo,
		limiter: httpkit.NewRateLimiter(rate.Limit(cfg.GetWebhookRatePerSecond()), cfg.GetWebhookRateBurst(), httpkit.ByContextValue(ctxExperienceID), log),
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "webhook"
}

// RegisterRoutes mounts webhook routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	// Whop delivers every tenant's webhooks from the same addresses, so the
	// bucket is the experience resolved from the API key.
	webhookGroup := ctx.V1.Group("/webhook")
	webhookGroup.Use(APIKeyAuthMiddleware(m.repo), m.limiter.Limit())
	webhookGroup.POST("/whop", m.handler.HandleWhopWebhook)

	// Admin API key management (JWT auth + admin role)
	adminGroup := ctx.Admin.Group("/webhook/keys")
	adminGroup.POST("", m.handler.HandleCreateAPIKey)
	adminGroup.GET("", m.handler.HandleListAPIKeys)
	adminGroup.DELETE("/:keyId", m.handler.HandleRevokeAPIKey)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
