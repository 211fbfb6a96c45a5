package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/livedesk-go/internal/application/services"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/chat"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/messaging"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/security"
	"github.com/AtRiskMedia/livedesk-go/internal/presentation/http/middleware"
)

// PostMessageRequest is an agent message or internal note.
type PostMessageRequest struct {
	Body     string `json:"body" binding:"required"`
	Internal bool   `json:"internal"`
}

// TypingRequest starts or stops the caller's typing indicator.
type TypingRequest struct {
	IsTyping bool `json:"isTyping"`
}

// RoomHandlers serves the agent side of a room.
type RoomHandlers struct {
	base
	rooms     *services.RoomService
	messages  *services.MessageService
	typing    *services.TypingService
	history   *services.HistoryService
	analytics *services.AnalyticsService
}

func NewRoomHandlers(rooms *services.RoomService, messages *services.MessageService, typing *services.TypingService,
	history *services.HistoryService, analytics *services.AnalyticsService, events *messaging.RoomBroadcaster,
	logger *logging.ChanneledLogger) *RoomHandlers {
	return &RoomHandlers{
		base:      base{logger: logger, events: events},
		rooms:     rooms,
		messages:  messages,
		typing:    typing,
		history:   history,
		analytics: analytics,
	}
}

// authorize loads the room named by :id and checks it belongs to the
// caller's tenant. Rooms of other tenants are reported as missing.
func (h *RoomHandlers) authorize(c *gin.Context) (*security.AgentClaims, services.RoomView, bool) {
	claims, ok := middleware.GetAgent(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return nil, services.RoomView{}, false
	}
	roomID := c.Param("id")
	view, err := h.rooms.GetRoom(c.Request.Context(), roomID)
	if err == nil && view.Room.TenantID != claims.TenantID {
		err = apperrors.NotFound("room", roomID)
	}
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return nil, services.RoomView{}, false
	}
	return claims, view, true
}

func profileOf(claims *security.AgentClaims) chat.Profile {
	return chat.Profile{Name: claims.Name, Email: claims.Email}
}

// GetRoom returns the room with its participants and derived state.
func (h *RoomHandlers) GetRoom(c *gin.Context) {
	if _, view, ok := h.authorize(c); ok {
		c.JSON(http.StatusOK, view)
	}
}

// JoinRoom adds the calling agent, subject to capacity admission.
func (h *RoomHandlers) JoinRoom(c *gin.Context) {
	claims, view, ok := h.authorize(c)
	if !ok {
		return
	}
	joined, err := h.rooms.JoinAgent(c.Request.Context(), view.Room.ID, claims.AgentID, profileOf(claims))
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	h.logger.Room().Info().Str("tenantId", claims.TenantID).Str("roomId", view.Room.ID).Str("agentId", claims.AgentID).Msg("Agent joined room")
	h.publish(claims.TenantID, view.Room.ID, messaging.EventRoom, false, joined)
	c.JSON(http.StatusOK, joined)
}

func (h *RoomHandlers) LeaveRoom(c *gin.Context) {
	claims, view, ok := h.authorize(c)
	if !ok {
		return
	}
	left, err := h.rooms.LeaveAgent(c.Request.Context(), view.Room.ID, claims.AgentID)
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	h.publish(claims.TenantID, view.Room.ID, messaging.EventRoom, false, left)
	c.JSON(http.StatusOK, left)
}

func (h *RoomHandlers) EndRoom(c *gin.Context) {
	claims, view, ok := h.authorize(c)
	if !ok {
		return
	}
	ended, err := h.rooms.EndRoom(c.Request.Context(), view.Room.ID)
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	h.logger.Room().Info().Str("tenantId", claims.TenantID).Str("roomId", view.Room.ID).Str("agentId", claims.AgentID).Msg("Room ended by agent")
	h.publish(claims.TenantID, view.Room.ID, messaging.EventRoom, false, ended)
	c.JSON(http.StatusOK, ended)
}

// ListMessages includes internal notes unless ?internal=false.
func (h *RoomHandlers) ListMessages(c *gin.Context) {
	_, view, ok := h.authorize(c)
	if !ok {
		return
	}
	includeInternal := true
	if v := c.Query("internal"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "internal must be a boolean"})
			return
		}
		includeInternal = parsed
	}
	msgs, err := h.messages.List(c.Request.Context(), view.Room.ID, includeInternal)
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "count": len(msgs)})
}

func (h *RoomHandlers) PostMessage(c *gin.Context) {
	claims, view, ok := h.authorize(c)
	if !ok {
		return
	}
	var req PostMessageRequest
	if !bindJSON(c, &req) {
		return
	}
	msg, err := h.messages.Send(c.Request.Context(), services.SendMessageInput{
		RoomID:     view.Room.ID,
		SenderKind: chat.SenderAgent,
		SenderID:   claims.AgentID,
		Body:       req.Body,
		Internal:   req.Internal,
	})
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	h.publish(claims.TenantID, view.Room.ID, messaging.EventMessage, msg.Internal, msg)
	c.JSON(http.StatusCreated, msg)
}

func (h *RoomHandlers) SetTyping(c *gin.Context) {
	claims, view, ok := h.authorize(c)
	if !ok {
		return
	}
	var req TypingRequest
	if !bindJSON(c, &req) {
		return
	}
	pid := chat.ParticipantID(view.Room.ID, chat.AgentMember{AgentID: claims.AgentID})
	ev, err := h.typing.SetTyping(c.Request.Context(), view.Room.ID, pid, req.IsTyping)
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	h.publish(claims.TenantID, view.Room.ID, messaging.EventTyping, false, ev)
	c.JSON(http.StatusOK, ev)
}

func (h *RoomHandlers) GetTyping(c *gin.Context) {
	if _, view, ok := h.authorize(c); ok {
		c.JSON(http.StatusOK, gin.H{"typing": h.typing.Typing(c.Request.Context(), view.Room.ID)})
	}
}

func (h *RoomHandlers) GetHistory(c *gin.Context) {
	_, view, ok := h.authorize(c)
	if !ok {
		return
	}
	entries, err := h.history.ForRoom(c.Request.Context(), view.Room.ID)
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries, "count": len(entries)})
}

// GetAnalytics returns 404 until the room's opening job has been aggregated.
func (h *RoomHandlers) GetAnalytics(c *gin.Context) {
	_, view, ok := h.authorize(c)
	if !ok {
		return
	}
	a, err := h.analytics.Get(c.Request.Context(), view.Room.ID)
	if err != nil {
		respondError(c, h.logger.Analytics(), err)
		return
	}
	c.JSON(http.StatusOK, a)
}
