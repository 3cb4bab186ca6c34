package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"support-chat/internal/telemetry"
)

// TokenIssuer mints access tokens for local testing.
type TokenIssuer interface {
	GenerateToken(userID, role string) (string, error)
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, emitter *telemetry.AuditEmitter, issuer TokenIssuer, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), telemetry.AuditEntry{
			Level:     telemetry.LevelInfo,
			Text:      "audit test",
			RequestID: requestIDFromContext(c),
			UserID:    userIDFromContext(c),
		})
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/debug/token", func(c *gin.Context) {
		var req struct {
			UserID string `json:"user_id" binding:"required"`
			Role   string `json:"role"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		token, err := issuer.GenerateToken(req.UserID, req.Role)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	})
}
