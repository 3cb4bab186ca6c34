package handlers

import (
	"github.com/gin-gonic/gin"

	"support-chat/internal/telemetry"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = telemetry.RequestIDFrom(c.Request.Context())
	}
	if requestID == "" {
		requestID = telemetry.NewRequestID()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) string {
	if id := c.GetString("userID"); id != "" {
		return id
	}
	return c.GetHeader("X-User-ID")
}
