package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
)

// RequestLogger writes one http channel entry per request.
func RequestLogger(logger *logging.ChanneledLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := zerolog.DebugLevel
		switch {
		case status >= 500:
			level = zerolog.ErrorLevel
		case status >= 400:
			level = zerolog.InfoLevel
		}
		event := logger.HTTP().WithLevel(level)
		if claims, ok := GetAgent(c); ok {
			event = event.Str("tenantId", claims.TenantID).Str("agentId", claims.AgentID)
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("Request completed")
	}
}
