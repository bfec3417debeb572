// Package http holds the application container and the module contract the
// router mounts.
package http

import (
	"context"

	"funnel_builder_backend/internal/events"
	"funnel_builder_backend/platform/config"
	"funnel_builder_backend/platform/logger"
)

// RouterConfig combines the config interfaces needed by the HTTP router.
type RouterConfig interface {
	config.HTTPConfig
	config.JWTConfig
}

// HealthChecker is one dependency checked by /api/ready.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to HealthChecker.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// App is built by the composition root and handed to the router.
type App struct {
	Config RouterConfig
	Logger *logger.Logger
	// Checks are run by name on readiness; postgres is required, redis
	// only when configured.
	Checks   map[string]HealthChecker
	EventBus events.Bus
	Modules  []Module
}
