package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/livedesk-go/internal/application/services"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/chat"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/visitor"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/messaging"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/livedesk-go/internal/presentation/http/middleware"
)

type StartSessionRequest struct {
	VisitorID   string                     `json:"visitorId"`
	Attribution *services.AttributionInput `json:"attribution"`
}

type OpenRoomRequest struct {
	Profile      chat.Profile `json:"profile"`
	DepartmentID string       `json:"departmentId"`
}

type VisitorMessageRequest struct {
	Body string `json:"body" binding:"required"`
}

// VisitorHandlers serves the chat widget. Every route except StartSession
// runs behind the session token middleware.
type VisitorHandlers struct {
	base
	sessions *services.SessionService
	rooms    *services.RoomService
	messages *services.MessageService
	typing   *services.TypingService
}

func NewVisitorHandlers(sessions *services.SessionService, rooms *services.RoomService, messages *services.MessageService,
	typing *services.TypingService, events *messaging.RoomBroadcaster, logger *logging.ChanneledLogger) *VisitorHandlers {
	return &VisitorHandlers{
		base:     base{logger: logger, events: events},
		sessions: sessions,
		rooms:    rooms,
		messages: messages,
		typing:   typing,
	}
}

// StartSession issues a session token for the tenant in X-Tenant-ID.
func (h *VisitorHandlers) StartSession(c *gin.Context) {
	tenantID := c.GetHeader("X-Tenant-ID")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-Tenant-ID header is required"})
		return
	}
	var req StartSessionRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	s, err := h.sessions.StartSession(c.Request.Context(), services.StartSessionInput{
		TenantID:    tenantID,
		VisitorID:   req.VisitorID,
		UserAgent:   c.Request.UserAgent(),
		IP:          c.ClientIP(),
		Attribution: req.Attribution,
	})
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h *VisitorHandlers) GetSession(c *gin.Context) {
	s, _ := middleware.GetSession(c)
	c.JSON(http.StatusOK, s)
}

func (h *VisitorHandlers) Touch(c *gin.Context) {
	s, _ := middleware.GetSession(c)
	touched, err := h.sessions.Touch(c.Request.Context(), s.ID)
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	c.JSON(http.StatusOK, touched)
}

func (h *VisitorHandlers) EndSession(c *gin.Context) {
	s, _ := middleware.GetSession(c)
	ended, err := h.sessions.EndSession(c.Request.Context(), s.ID)
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	c.JSON(http.StatusOK, ended)
}

func (h *VisitorHandlers) RecordPageView(c *gin.Context) {
	s, _ := middleware.GetSession(c)
	var req visitor.PageView
	if !bindJSON(c, &req) {
		return
	}
	in, err := h.sessions.RecordPageView(c.Request.Context(), s.ID, req)
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	c.JSON(http.StatusCreated, in)
}

func (h *VisitorHandlers) RecordWidgetEvent(c *gin.Context) {
	s, _ := middleware.GetSession(c)
	var req visitor.WidgetEvent
	if !bindJSON(c, &req) {
		return
	}
	in, err := h.sessions.RecordWidgetEvent(c.Request.Context(), s.ID, req)
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	c.JSON(http.StatusCreated, in)
}

func (h *VisitorHandlers) OpenRoom(c *gin.Context) {
	s, _ := middleware.GetSession(c)
	var req OpenRoomRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	view, err := h.rooms.OpenRoom(c.Request.Context(), services.OpenRoomInput{
		TenantID:         s.TenantID,
		VisitorSessionID: s.ID,
		Profile:          req.Profile,
		DepartmentID:     req.DepartmentID,
	})
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *VisitorHandlers) ListRooms(c *gin.Context) {
	s, _ := middleware.GetSession(c)
	rooms, err := h.rooms.RoomsForSession(c.Request.Context(), s.ID)
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms, "count": len(rooms)})
}

// room loads :id and checks it belongs to the session's visitor.
func (h *VisitorHandlers) room(c *gin.Context) (visitor.Session, services.RoomView, bool) {
	s, _ := middleware.GetSession(c)
	roomID := c.Param("id")
	view, err := h.rooms.GetRoom(c.Request.Context(), roomID)
	if err == nil && (view.Room.TenantID != s.TenantID || view.Room.VisitorID != s.VisitorID) {
		err = apperrors.NotFound("room", roomID)
	}
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return s, services.RoomView{}, false
	}
	return s, view, true
}

func (h *VisitorHandlers) GetRoom(c *gin.Context) {
	if _, view, ok := h.room(c); ok {
		c.JSON(http.StatusOK, view)
	}
}

func (h *VisitorHandlers) ListMessages(c *gin.Context) {
	_, view, ok := h.room(c)
	if !ok {
		return
	}
	msgs, err := h.messages.List(c.Request.Context(), view.Room.ID, false)
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "count": len(msgs)})
}

func (h *VisitorHandlers) PostMessage(c *gin.Context) {
	s, view, ok := h.room(c)
	if !ok {
		return
	}
	var req VisitorMessageRequest
	if !bindJSON(c, &req) {
		return
	}
	msg, err := h.messages.Send(c.Request.Context(), services.SendMessageInput{
		RoomID:     view.Room.ID,
		SenderKind: chat.SenderVisitor,
		SenderID:   s.VisitorID,
		Body:       req.Body,
	})
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	h.publish(s.TenantID, view.Room.ID, messaging.EventMessage, false, msg)
	c.JSON(http.StatusCreated, msg)
}

func (h *VisitorHandlers) SetTyping(c *gin.Context) {
	s, view, ok := h.room(c)
	if !ok {
		return
	}
	var req TypingRequest
	if !bindJSON(c, &req) {
		return
	}
	pid := chat.ParticipantID(view.Room.ID, chat.VisitorMember{VisitorID: s.VisitorID})
	ev, err := h.typing.SetTyping(c.Request.Context(), view.Room.ID, pid, req.IsTyping)
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	h.publish(s.TenantID, view.Room.ID, messaging.EventTyping, false, ev)
	c.JSON(http.StatusOK, ev)
}

func (h *VisitorHandlers) GetTyping(c *gin.Context) {
	if _, view, ok := h.room(c); ok {
		c.JSON(http.StatusOK, gin.H{"typing": h.typing.Typing(c.Request.Context(), view.Room.ID)})
	}
}

func (h *VisitorHandlers) LeaveRoom(c *gin.Context) {
	s, view, ok := h.room(c)
	if !ok {
		return
	}
	left, err := h.rooms.LeaveVisitor(c.Request.Context(), view.Room.ID)
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	h.publish(s.TenantID, view.Room.ID, messaging.EventRoom, false, left)
	c.JSON(http.StatusOK, left)
}
