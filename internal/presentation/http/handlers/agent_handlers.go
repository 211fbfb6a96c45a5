package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/livedesk-go/internal/application/services"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/chat"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/visitor"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/livedesk-go/internal/presentation/http/middleware"
)

type PresenceRequest struct {
	Status chat.Presence `json:"status" binding:"required"`
}

type CapacityRequest struct {
	MaxConcurrentChats int `json:"maxConcurrentChats" binding:"required"`
}

// SecurityEventRequest records an event against a visitor session.
type SecurityEventRequest struct {
	Type     string           `json:"type" binding:"required"`
	Severity visitor.Severity `json:"severity"`
	Detail   string           `json:"detail"`
}

// AgentHandlers covers the agent's own presence and the tenant-level
// lookups agents use while serving rooms.
type AgentHandlers struct {
	base
	agents      *services.AgentService
	sessions    *services.SessionService
	analytics   *services.AnalyticsService
	departments *services.DepartmentService
}

func NewAgentHandlers(agents *services.AgentService, sessions *services.SessionService, analytics *services.AnalyticsService,
	departments *services.DepartmentService, logger *logging.ChanneledLogger) *AgentHandlers {
	return &AgentHandlers{
		base:        base{logger: logger},
		agents:      agents,
		sessions:    sessions,
		analytics:   analytics,
		departments: departments,
	}
}

func (h *AgentHandlers) GetStatus(c *gin.Context) {
	claims, _ := middleware.GetAgent(c)
	st, err := h.agents.Status(c.Request.Context(), claims.AgentID)
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *AgentHandlers) SetPresence(c *gin.Context) {
	claims, _ := middleware.GetAgent(c)
	var req PresenceRequest
	if !bindJSON(c, &req) {
		return
	}
	st, err := h.agents.SetPresence(c.Request.Context(), claims.TenantID, claims.AgentID, req.Status)
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	h.logger.Room().Info().Str("tenantId", claims.TenantID).Str("agentId", claims.AgentID).Str("status", string(st.Status)).Msg("Agent presence updated")
	c.JSON(http.StatusOK, st)
}

func (h *AgentHandlers) SetCapacity(c *gin.Context) {
	claims, _ := middleware.GetAgent(c)
	var req CapacityRequest
	if !bindJSON(c, &req) {
		return
	}
	st, err := h.agents.SetCapacity(c.Request.Context(), claims.TenantID, claims.AgentID, req.MaxConcurrentChats)
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *AgentHandlers) ListDepartments(c *gin.Context) {
	claims, _ := middleware.GetAgent(c)
	ds, err := h.departments.List(c.Request.Context(), claims.TenantID)
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"departments": ds, "count": len(ds)})
}

// SaveDepartment is admin only.
func (h *AgentHandlers) SaveDepartment(c *gin.Context) {
	claims, _ := middleware.GetAgent(c)
	var req services.DepartmentInput
	if !bindJSON(c, &req) {
		return
	}
	if id := c.Param("dept"); id != "" {
		req.ID = id
	}
	d, err := h.departments.Save(c.Request.Context(), claims.TenantID, req)
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// session loads the visitor session named by :id within the caller's tenant.
func (h *AgentHandlers) session(c *gin.Context) (visitor.Session, bool) {
	claims, _ := middleware.GetAgent(c)
	id := c.Param("id")
	s, err := h.sessions.Session(c.Request.Context(), id)
	if err == nil && s.TenantID != claims.TenantID {
		err = apperrors.NotFound("session", id)
	}
	if err != nil {
		respondError(c, h.logger.Auth(), err)
		return visitor.Session{}, false
	}
	return s, true
}

func (h *AgentHandlers) GetSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	attrs, err := h.sessions.Attributions(c.Request.Context(), s.ID)
	if err != nil {
		respondError(c, h.logger.Auth(), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": s, "attributions": attrs})
}

func (h *AgentHandlers) GetInteractions(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	list, err := h.sessions.Interactions(c.Request.Context(), s.ID)
	if err != nil {
		respondError(c, h.logger.Auth(), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"interactions": list, "count": len(list)})
}

func (h *AgentHandlers) GetEngagement(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	e, err := h.analytics.Engagement(c.Request.Context(), s.ID)
	if err != nil {
		respondError(c, h.logger.Analytics(), err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *AgentHandlers) ListSecurityEvents(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	events, err := h.sessions.SecurityEvents(c.Request.Context(), s.ID)
	if err != nil {
		respondError(c, h.logger.Auth(), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func (h *AgentHandlers) RecordSecurityEvent(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req SecurityEventRequest
	if !bindJSON(c, &req) {
		return
	}
	ev, err := h.sessions.RecordSecurityEvent(c.Request.Context(), services.SecurityEventInput{
		SessionID: s.ID,
		Type:      req.Type,
		Severity:  req.Severity,
		Detail:    req.Detail,
	})
	if err != nil {
		respondError(c, h.logger.Auth(), err)
		return
	}
	c.JSON(http.StatusCreated, ev)
}
