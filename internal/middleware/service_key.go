package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ServiceKey guards internal routes with a shared service-to-service key.
// End-user authentication lives in the gateway; this service only verifies
// that its callers are sibling services.
func ServiceKey(expected string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-Service-Key")
		if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
			logger.Warn("Rejected internal request",
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid service key"})
			c.Abort()
			return
		}
		c.Next()
	}
}
