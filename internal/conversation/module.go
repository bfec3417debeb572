// Package conversation provides the conversation bounded context: the
// member-facing app endpoints and the state machine behind them.
package conversation

import (
	"funnel_builder_backend/internal/conversation/handler"
	"funnel_builder_backend/internal/conversation/repository"
	"funnel_builder_backend/internal/conversation/service"
	"funnel_builder_backend/internal/events"
	apphttp "funnel_builder_backend/internal/http"
	"funnel_builder_backend/platform/logger"
	"funnel_builder_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the conversation bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
	repo    *repository.Repo
}

// NewModule creates and initializes the conversation module.
func NewModule(pool *pgxpool.Pool, funnels service.FunnelReader, eventBus events.Bus, val *validator.Validator, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, funnels, eventBus, log)
	return &Module{
		handler: handler.New(svc, val),
		service: svc,
		repo:    repo,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "conversation"
}

// Service returns the service layer for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// Repository exposes the store to the transition engine.
func (m *Module) Repository() *repository.Repo {
	return m.repo
}

// SetEngine wires the orchestrator used by the app endpoints.
func (m *Module) SetEngine(e handler.Engine) {
	m.handler.SetEngine(e)
}

// SetTransitioner wires the DM to internal hand-off.
func (m *Module) SetTransitioner(t service.Transitioner) {
	m.service.SetTransitioner(t)
}

// RegisterRoutes mounts member app routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	app := ctx.Protected.Group("/app")
	app.POST("/entry", m.handler.Entry)
	app.POST("/funnel-completed", m.handler.FunnelCompleted)
	app.POST("/conversations/delete", m.handler.ConversationDeleted)
	app.POST("/reply", m.handler.Reply)
	app.GET("/conversations/:id", m.handler.Get)
	app.GET("/conversations/:id/messages", m.handler.Messages)
}

var _ apphttp.Module = (*Module)(nil)
