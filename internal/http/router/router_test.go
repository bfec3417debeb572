package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apphttp "funnel_builder_backend/internal/http"
	"funnel_builder_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

type testConfig struct{}

func (testConfig) GetHTTPAddr() string        { return ":0" }
func (testConfig) GetCORSAllowAll() bool      { return true }
func (testConfig) GetCORSOrigins() []string   { return nil }
func (testConfig) GetCORSAllowCreds() bool    { return false }
func (testConfig) GetJWTAccessSecret() string { return "secret" }

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type pingModule struct{}

func (pingModule) Name() string { return "ping" }
func (pingModule) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	ctx.Admin.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
}

func serve(engine *gin.Engine, path string) int {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w.Code
}

func TestRouterMountsModulesBehindAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := New(&apphttp.App{
		Config:  testConfig{},
		Logger:  logger.Discard(),
		Checks:  map[string]apphttp.HealthChecker{"postgres": pinger{}},
		Modules: []apphttp.Module{pingModule{}},
	})

	if code := serve(engine, "/api/health"); code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", code)
	}
	if code := serve(engine, "/api/v1/ping"); code != http.StatusUnauthorized {
		t.Fatalf("protected route without token: expected 401, got %d", code)
	}
	if code := serve(engine, "/api/v1/admin/ping"); code != http.StatusUnauthorized {
		t.Fatalf("admin route without token: expected 401, got %d", code)
	}
}

func TestReadinessReportsFailedDependencies(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := New(&apphttp.App{
		Config: testConfig{},
		Logger: logger.Discard(),
		Checks: map[string]apphttp.HealthChecker{
			"postgres": pinger{},
			"redis":    apphttp.PingFunc(func(context.Context) error { return errors.New("down") }),
		},
	})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"failed":["redis"]`) {
		t.Fatalf("expected redis to be reported, got %s", w.Body.String())
	}
}

func TestReadinessWithoutChecks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := New(&apphttp.App{Config: testConfig{}, Logger: logger.Discard()})
	if code := serve(engine, "/api/ready"); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}
