package webhook

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderAPIKey authenticates webhook senders.
	HeaderAPIKey = "X-Webhook-API-Key"

	ctxExperienceID = "webhookExperienceID"
	ctxKeyID        = "webhookKeyID"
)

// APIKeyAuthMiddleware validates the X-Webhook-API-Key header
// and sets the experience context on the gin context.
func APIKeyAuthMiddleware(keys KeyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader(HeaderAPIKey)
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}

		key, err := keys.GetByHash(c.Request.Context(), HashKey(apiKey))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}

		c.Set(ctxExperienceID, key.ExperienceID)
		c.Set(ctxKeyID, key.ID)
		c.Next()
	}
}
