package middleware

import (
	"crypto/subtle"
	"net/http"
	"time"

	"billing-api/internal/response"

	"github.com/gin-gonic/gin"
)

// APIKeyMiddleware validates the configured API key. An empty configured key
// disables the check, which is the development default.
func APIKeyMiddleware(configuredKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if configuredKey == "" {
			c.Next()
			return
		}

		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" {
			apiKey = c.Query("api_key")
		}

		if apiKey == "" {
			response.ErrorJSON(c, http.StatusUnauthorized, "Missing api_key")
			c.Abort()
			return
		}

		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(configuredKey)) != 1 {
			response.ErrorJSON(c, http.StatusUnauthorized, "Invalid api_key")
			c.Abort()
			return
		}

		c.Set("request_time", time.Now())
		c.Next()
	}
}
