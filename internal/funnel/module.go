// Package funnel provides the funnel authoring bounded context module.
package funnel

import (
	"funnel_builder_backend/internal/adapters/storage"
	"funnel_builder_backend/internal/events"
	"funnel_builder_backend/internal/funnel/handler"
	"funnel_builder_backend/internal/funnel/repository"
	"funnel_builder_backend/internal/funnel/service"
	"funnel_builder_backend/internal/funnel/transport"
	apphttp "funnel_builder_backend/internal/http"
	"funnel_builder_backend/platform/logger"
	"funnel_builder_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the funnel bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
	repo    *repository.Repo
}

// NewModule creates and initializes the funnel module. storageSvc may be nil,
// in which case deployed versions are not archived.
func NewModule(pool *pgxpool.Pool, storageSvc storage.StorageService, bucket string, eventBus events.Bus, val *validator.Validator, log *logger.Logger) *Module {
	repo := repository.New(pool)

	var archiver service.FlowArchiver
	if a := service.NewObjectArchiver(storageSvc, bucket); a != nil {
		archiver = a
	}

	if err := transport.RegisterValidations(val); err != nil {
		log.Error("funnel: register trigger validations failed", "error", err)
	}

	svc := service.New(repo, archiver, eventBus, log)
	return &Module{
		handler: handler.New(svc, val),
		service: svc,
		repo:    repo,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "funnel"
}

// Service returns the service layer for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// Repository exposes the funnel catalog to the trigger resolver.
func (m *Module) Repository() *repository.Repo {
	return m.repo
}

// SetPreviewer wires the trigger resolver used by the preview endpoint.
func (m *Module) SetPreviewer(p service.Previewer) {
	m.service.SetPreviewer(p)
}

// RegisterRoutes mounts funnel routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	admin := ctx.Admin.Group("/funnels")
	admin.GET("", m.handler.List)
	admin.POST("", m.handler.Create)
	admin.POST("/preview", m.handler.Preview)
	admin.GET("/:id", m.handler.Get)
	admin.PUT("/:id/flow", m.handler.UpdateFlow)
	admin.PUT("/:id/triggers", m.handler.UpdateTriggers)
	admin.POST("/:id/deploy", m.handler.Deploy)
	admin.POST("/:id/undeploy", m.handler.Undeploy)
	admin.GET("/:id/versions/:version", m.handler.ArchiveURL)
	admin.DELETE("/:id", m.handler.Delete)
}

var _ apphttp.Module = (*Module)(nil)
