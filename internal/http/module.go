package http

import (
	"funnel_builder_backend/platform/config"
	"funnel_builder_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

// Module is a bounded context that mounts its own routes.
type Module interface {
	Name() string
	RegisterRoutes(ctx *RouterContext)
}

// RouterContext carries the route groups modules mount on.
//
//	V1        /api/v1, unauthenticated (webhooks)
//	Protected /api/v1 behind the app JWT (member actions)
//	Admin     /api/v1/admin behind the JWT and RoleAdmin (funnel authoring)
type RouterContext struct {
	Engine         *gin.Engine
	V1             *gin.RouterGroup
	Protected      *gin.RouterGroup
	Admin          *gin.RouterGroup
	Config         config.JWTConfig
	AuthMiddleware gin.HandlerFunc
	Logger         *logger.Logger
}
