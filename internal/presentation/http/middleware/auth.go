// Package middleware provides HTTP middleware for the presentation layer.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/visitor"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/security"
)

// SessionHeader carries the visitor session token issued by POST /sessions.
const SessionHeader = "X-LiveDesk-Session"

const (
	agentKey   = "agent"
	sessionKey = "session"
)

// AgentAuthMiddleware requires a valid agent bearer token and stores its claims.
func AgentAuthMiddleware(jwtSecret string, logger *logging.ChanneledLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			// EventSource and WebSocket clients cannot set headers
			token = c.Query("access_token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		claims, err := security.ValidateAgentToken(token, jwtSecret)
		if err != nil {
			logger.Auth().Warn().Err(err).Str("path", c.Request.URL.Path).Msg("Rejected agent token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		c.Set(agentKey, claims)
		c.Next()
	}
}

// AdminOnlyMiddleware must run after AgentAuthMiddleware.
func AdminOnlyMiddleware(logger *logging.ChanneledLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := GetAgent(c)
		if !ok || !claims.IsAdmin() {
			logger.Auth().Warn().Str("path", c.Request.URL.Path).Msg("Admin access denied")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}
		c.Next()
	}
}

// GetAgent retrieves the authenticated agent from gin context.
func GetAgent(c *gin.Context) (*security.AgentClaims, bool) {
	v, exists := c.Get(agentKey)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*security.AgentClaims)
	return claims, ok
}

// SessionLookup resolves a visitor session token.
type SessionLookup interface {
	SessionByToken(ctx context.Context, token string) (visitor.Session, error)
}

// VisitorSessionMiddleware resolves the session token header into the
// visitor's session.
func VisitorSessionMiddleware(sessions SessionLookup, logger *logging.ChanneledLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(SessionHeader)
		if token == "" {
			token = c.Query("session")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": SessionHeader + " header is required"})
			return
		}
		s, err := sessions.SessionByToken(c.Request.Context(), token)
		if err != nil {
			logger.Auth().Debug().Err(err).Str("path", c.Request.URL.Path).Msg("Unknown visitor session token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown session"})
			return
		}
		c.Set(sessionKey, s)
		c.Next()
	}
}

// GetSession retrieves the visitor session from gin context.
func GetSession(c *gin.Context) (visitor.Session, bool) {
	v, exists := c.Get(sessionKey)
	if !exists {
		return visitor.Session{}, false
	}
	s, ok := v.(visitor.Session)
	return s, ok
}
