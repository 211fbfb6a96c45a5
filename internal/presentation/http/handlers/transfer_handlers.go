package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/livedesk-go/internal/application/services"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/messaging"
)

// TransferRequest hands the caller's primary role to another agent.
type TransferRequest struct {
	ToAgentID string `json:"toAgentId" binding:"required"`
	ToEmail   string `json:"toEmail"`
	Note      string `json:"note"`
}

// InviteRequest asks another agent to join alongside the caller.
type InviteRequest struct {
	AgentID    string `json:"agentId" binding:"required"`
	AgentEmail string `json:"agentEmail"`
}

func (h *RoomHandlers) RequestTransfer(c *gin.Context) {
	claims, view, ok := h.authorize(c)
	if !ok {
		return
	}
	var req TransferRequest
	if !bindJSON(c, &req) {
		return
	}
	tr, err := h.rooms.RequestTransfer(c.Request.Context(), view.Room.ID, services.TransferInput{
		FromAgentID: claims.AgentID,
		ToAgentID:   req.ToAgentID,
		ToEmail:     req.ToEmail,
		Note:        req.Note,
	})
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	c.JSON(http.StatusCreated, tr)
}

func (h *RoomHandlers) GetTransfer(c *gin.Context) {
	_, view, ok := h.authorize(c)
	if !ok {
		return
	}
	tr, err := h.rooms.PendingTransfer(c.Request.Context(), view.Room.ID)
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	c.JSON(http.StatusOK, tr)
}

func (h *RoomHandlers) AcceptTransfer(c *gin.Context) {
	claims, view, ok := h.authorize(c)
	if !ok {
		return
	}
	accepted, err := h.rooms.AcceptTransfer(c.Request.Context(), view.Room.ID, claims.AgentID, profileOf(claims))
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	h.publish(claims.TenantID, view.Room.ID, messaging.EventRoom, false, accepted)
	c.JSON(http.StatusOK, accepted)
}

func (h *RoomHandlers) RejectTransfer(c *gin.Context) {
	claims, view, ok := h.authorize(c)
	if !ok {
		return
	}
	if err := h.rooms.RejectTransfer(c.Request.Context(), view.Room.ID, claims.AgentID); err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rejected": true})
}

func (h *RoomHandlers) InviteAgent(c *gin.Context) {
	claims, view, ok := h.authorize(c)
	if !ok {
		return
	}
	var req InviteRequest
	if !bindJSON(c, &req) {
		return
	}
	inv, err := h.rooms.InviteAgent(c.Request.Context(), view.Room.ID, services.InviteInput{
		InviterID:  claims.AgentID,
		AgentID:    req.AgentID,
		AgentEmail: req.AgentEmail,
	})
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

func (h *RoomHandlers) AcceptInvitation(c *gin.Context) {
	claims, view, ok := h.authorize(c)
	if !ok {
		return
	}
	joined, err := h.rooms.AcceptInvitation(c.Request.Context(), view.Room.ID, claims.AgentID, profileOf(claims))
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	h.publish(claims.TenantID, view.Room.ID, messaging.EventRoom, false, joined)
	c.JSON(http.StatusOK, joined)
}

func (h *RoomHandlers) RejectInvitation(c *gin.Context) {
	claims, view, ok := h.authorize(c)
	if !ok {
		return
	}
	if err := h.rooms.RejectInvitation(c.Request.Context(), view.Room.ID, claims.AgentID); err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rejected": true})
}

// ====== Departments ======

func (h *RoomHandlers) TransferDepartment(c *gin.Context) {
	claims, view, ok := h.authorize(c)
	if !ok {
		return
	}
	moved, err := h.rooms.TransferDepartment(c.Request.Context(), view.Room.ID, c.Param("dept"))
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	h.publish(claims.TenantID, view.Room.ID, messaging.EventRoom, true, moved)
	c.JSON(http.StatusOK, moved)
}

func (h *RoomHandlers) InviteDepartment(c *gin.Context) {
	claims, view, ok := h.authorize(c)
	if !ok {
		return
	}
	inv, err := h.rooms.InviteDepartment(c.Request.Context(), view.Room.ID, claims.AgentID, c.Param("dept"))
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

// AcceptDepartmentInvitation joins the caller on behalf of the invited department.
func (h *RoomHandlers) AcceptDepartmentInvitation(c *gin.Context) {
	claims, view, ok := h.authorize(c)
	if !ok {
		return
	}
	joined, err := h.rooms.AcceptDepartmentInvitation(c.Request.Context(), view.Room.ID, c.Param("dept"), claims.AgentID, profileOf(claims))
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	h.publish(claims.TenantID, view.Room.ID, messaging.EventRoom, false, joined)
	c.JSON(http.StatusOK, joined)
}

func (h *RoomHandlers) RejectDepartmentInvitation(c *gin.Context) {
	_, view, ok := h.authorize(c)
	if !ok {
		return
	}
	updated, err := h.rooms.RejectDepartmentInvitation(c.Request.Context(), view.Room.ID, c.Param("dept"))
	if err != nil {
		respondError(c, h.logger.Room(), err)
		return
	}
	c.JSON(http.StatusOK, updated)
}
