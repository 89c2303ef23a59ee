package middleware

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestLog tags every request with an ID for log correlation, honoring one
// supplied by an upstream proxy, and writes a single access line once the
// response is done. The rate limit pipeline prefixes its own lines with the
// same [request-id], so one grep follows a request end to end.
func RequestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		start := time.Now()
		c.Next()

		log.Printf("[%s] %s %s %d tenant=%s %s %v",
			requestID,
			c.Request.Method,
			c.Request.URL.Path,
			c.Writer.Status(),
			tenantLabel(c),
			c.ClientIP(),
			time.Since(start),
		)
	}
}

// tenantLabel reads the tenant resolved by the rate limit pipeline, if any.
func tenantLabel(c *gin.Context) string {
	if v, ok := c.Get("tenant_id"); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id.String()
		}
	}
	return "-"
}
