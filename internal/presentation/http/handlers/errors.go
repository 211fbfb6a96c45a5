// Package handlers provides the HTTP handlers of the LiveDesk API.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/messaging"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
)

// StatusFor maps the error taxonomy onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrCapacityExceeded):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, apperrors.ErrInfrastructureUnavailable),
		errors.Is(err, apperrors.ErrCircuitOpen),
		errors.Is(err, apperrors.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as JSON. Capacity rejections carry the agent's counts.
func respondError(c *gin.Context, log *zerolog.Logger, err error) {
	status := StatusFor(err)
	body := gin.H{"error": err.Error()}

	var capErr *apperrors.CapacityError
	if errors.As(err, &capErr) {
		body["agentId"] = capErr.AgentID
		body["status"] = capErr.Status
		body["current"] = capErr.Current
		body["max"] = capErr.Max
	}

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Int("status", status).Msg("Request failed")
		if status == http.StatusInternalServerError {
			body["error"] = "internal error"
		}
	}
	c.JSON(status, body)
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return false
	}
	return true
}

// base carries the logger every handler group shares and, for room
// handlers, the event stream.
type base struct {
	logger *logging.ChanneledLogger
	events *messaging.RoomBroadcaster
}

func (b base) publish(tenantID, roomID, eventType string, internal bool, data any) {
	if b.events == nil {
		return
	}
	b.events.Publish(tenantID, roomID, messaging.Event{Type: eventType, Internal: internal, Data: data})
}
