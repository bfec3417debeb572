package httpkit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"funnel_builder_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func TestRateLimiterBucketsPerContextValue(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := NewRateLimiter(rate.Limit(0.001), 1, ByContextValue("tenant"), logger.Discard())

	engine := gin.New()
	engine.POST("/hook", func(c *gin.Context) {
		c.Set("tenant", c.GetHeader("X-Tenant"))
		c.Next()
	}, limiter.Limit(), func(c *gin.Context) { c.Status(http.StatusOK) })

	send := func(tenant string) int {
		req := httptest.NewRequest(http.MethodPost, "/hook", nil)
		req.Header.Set("X-Tenant", tenant)
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		return w.Code
	}

	if code := send("exp_a"); code != http.StatusOK {
		t.Fatalf("first request for exp_a: expected 200, got %d", code)
	}
	if code := send("exp_a"); code != http.StatusTooManyRequests {
		t.Fatalf("second request for exp_a: expected 429, got %d", code)
	}
	if code := send("exp_b"); code != http.StatusOK {
		t.Fatalf("exp_b has its own bucket: expected 200, got %d", code)
	}
}
