// Package resource provides the resource and membership bounded context.
// Trigger filters and product-scoped triggers read from it; the webhook
// writes membership state into it.
package resource

import (
	"funnel_builder_backend/internal/events"
	apphttp "funnel_builder_backend/internal/http"
	"funnel_builder_backend/internal/resource/handler"
	"funnel_builder_backend/internal/resource/repository"
	"funnel_builder_backend/internal/resource/service"
	"funnel_builder_backend/platform/logger"
	"funnel_builder_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the resource bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates and initializes the resource module.
func NewModule(pool *pgxpool.Pool, eventBus events.Bus, val *validator.Validator, log *logger.Logger) *Module {
	svc := service.New(repository.New(pool), eventBus, log)
	return &Module{
		handler: handler.New(svc, val),
		service: svc,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "resource"
}

// Service returns the service layer for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts resource routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	admin := ctx.Admin.Group("/resources")
	admin.GET("", m.handler.List)
	admin.POST("", m.handler.Create)
	admin.DELETE("/:id", m.handler.Delete)
}

var _ apphttp.Module = (*Module)(nil)
