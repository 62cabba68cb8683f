package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dm-service/internal/auth"
	"dm-service/internal/telemetry"
)

// RegisterDebugRoutes wires debug-only endpoints. Token issuance here is a
// stand-in for the identity service in local development.
func RegisterDebugRoutes(router *gin.Engine, emitter *telemetry.AuditEmitter, validator *auth.Validator, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), "INFO", "audit test", requestIDFromContext(c), usernameFromContext(c))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/auth/token", func(c *gin.Context) {
		var req struct {
			Username string `json:"username" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		token, err := validator.IssueToken(req.Username)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	})
}
