package services_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/livedesk-go/internal/application/services"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/chat"
)

func TestTransferHandsOverPrimary(t *testing.T) {
	h := newHarness(t)
	h.online("a1", 3)
	h.online("a2", 3)
	room := h.openRoom("").Room
	h.join(room.ID, "a1")

	_, err := h.rooms.RequestTransfer(h.ctx, room.ID, services.TransferInput{FromAgentID: "a2", ToAgentID: "a1"})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	req, err := h.rooms.RequestTransfer(h.ctx, room.ID, services.TransferInput{
		FromAgentID: "a1",
		ToAgentID:   "a2",
		ToEmail:     "a2@example.com",
		Note:        "billing question",
	})
	require.NoError(t, err)
	require.Equal(t, start.Add(h.cfg.Rooms.TransferTTL), req.ExpiresAt)

	pending, err := h.rooms.PendingTransfer(h.ctx, room.ID)
	require.NoError(t, err)
	require.Equal(t, req.ID, pending.ID)

	_, err = h.rooms.AcceptTransfer(h.ctx, room.ID, "a3", chat.Profile{})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	h.advance(time.Second)
	view, err := h.rooms.AcceptTransfer(h.ctx, room.ID, "a2", chat.Profile{Name: "a2"})
	require.NoError(t, err)
	require.Equal(t, "a2", *view.Room.PrimaryAgentID)
	require.Equal(t, chat.StateSingleAgent, view.State)

	_, err = h.rooms.PendingTransfer(h.ctx, room.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	require.Equal(t, 0, h.status("a1").CurrentChats)
	require.Equal(t, 1, h.status("a2").CurrentChats)

	entries, err := h.history.ForRoom(h.ctx, room.ID)
	require.NoError(t, err)
	out := historyFor(entries, agentPID(room.ID, "a1"))
	require.Len(t, out, 2)
	require.Equal(t, chat.ReasonAgentTransfer, out[1].Reason)
	require.NotNil(t, out[0].EndedAt)
	require.Equal(t, int64(1), *out[0].DurationSeconds)
	in := historyFor(entries, agentPID(room.ID, "a2"))
	require.Len(t, in, 1)
	require.Equal(t, chat.ReasonAgentTransfer, in[0].Reason)

	h.pump()
	require.Len(t, h.mail.To("a2@example.com"), 1)
	durable, err := h.durable.Rooms.FindByID(h.ctx, room.ID)
	require.NoError(t, err)
	require.Equal(t, "a2", *durable.PrimaryAgentID)
}

func TestTransferToPresentAgent(t *testing.T) {
	h := newHarness(t)
	h.online("a1", 3)
	h.online("a2", 3)
	room := h.openRoom("").Room
	h.join(room.ID, "a1")
	h.join(room.ID, "a2")
	h.advance(time.Second)

	_, err := h.rooms.RequestTransfer(h.ctx, room.ID, services.TransferInput{FromAgentID: "a1", ToAgentID: "a2"})
	require.NoError(t, err)
	view, err := h.rooms.AcceptTransfer(h.ctx, room.ID, "a2", chat.Profile{})
	require.NoError(t, err)
	require.Equal(t, "a2", *view.Room.PrimaryAgentID)
	require.Equal(t, 1, h.status("a2").CurrentChats)
	require.Equal(t, 0, h.status("a1").CurrentChats)

	entries, err := h.history.ForRoom(h.ctx, room.ID)
	require.NoError(t, err)
	out := historyFor(entries, agentPID(room.ID, "a1"))
	require.Len(t, out, 2)
	require.Equal(t, chat.ActionLeft, out[1].Action)
	require.Equal(t, chat.ReasonAgentTransfer, out[1].Reason)
	in := historyFor(entries, agentPID(room.ID, "a2"))
	require.Len(t, in, 1)
	require.Equal(t, chat.ReasonAgentAssignment, in[0].Reason)
	require.Nil(t, in[0].EndedAt)
}

func TestTransferExpires(t *testing.T) {
	h := newHarness(t)
	h.online("a1", 3)
	h.online("a2", 3)
	room := h.openRoom("").Room
	h.join(room.ID, "a1")

	_, err := h.rooms.RequestTransfer(h.ctx, room.ID, services.TransferInput{FromAgentID: "a1", ToAgentID: "a2"})
	require.NoError(t, err)
	h.advance(h.cfg.Rooms.TransferTTL + time.Second)

	_, err = h.rooms.AcceptTransfer(h.ctx, room.ID, "a2", chat.Profile{})
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	require.Equal(t, 0, h.status("a2").CurrentChats)

	primary, ok, err := h.rooms.PrimaryAgent(h.ctx, room.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a1", primary)
}

func TestTransferRejectedByTarget(t *testing.T) {
	h := newHarness(t)
	h.online("a1", 3)
	room := h.openRoom("").Room
	h.join(room.ID, "a1")

	_, err := h.rooms.RequestTransfer(h.ctx, room.ID, services.TransferInput{FromAgentID: "a1", ToAgentID: "a2"})
	require.NoError(t, err)
	require.ErrorIs(t, h.rooms.RejectTransfer(h.ctx, room.ID, "a9"), apperrors.ErrValidation)
	require.NoError(t, h.rooms.RejectTransfer(h.ctx, room.ID, "a2"))
	require.ErrorIs(t, h.rooms.RejectTransfer(h.ctx, room.ID, "a2"), apperrors.ErrNotFound)
}

func TestTransferToFullAgentKeepsPrimary(t *testing.T) {
	h := newHarness(t)
	h.online("a1", 3)
	h.online("a2", 1)
	busy := h.openRoom("").Room
	h.join(busy.ID, "a2")
	room := h.openRoom("").Room
	h.join(room.ID, "a1")

	_, err := h.rooms.RequestTransfer(h.ctx, room.ID, services.TransferInput{FromAgentID: "a1", ToAgentID: "a2"})
	require.NoError(t, err)
	_, err = h.rooms.AcceptTransfer(h.ctx, room.ID, "a2", chat.Profile{})
	require.ErrorIs(t, err, apperrors.ErrCapacityExceeded)

	view, err := h.rooms.GetRoom(h.ctx, room.ID)
	require.NoError(t, err)
	require.Equal(t, "a1", *view.Room.PrimaryAgentID)
	require.Equal(t, 1, h.status("a1").CurrentChats)
}

func TestAgentInvitation(t *testing.T) {
	h := newHarness(t)
	h.online("a1", 3)
	h.online("a2", 3)
	room := h.openRoom("").Room
	h.join(room.ID, "a1")

	_, err := h.rooms.InviteAgent(h.ctx, room.ID, services.InviteInput{InviterID: "a2", AgentID: "a3"})
	require.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = h.rooms.InviteAgent(h.ctx, room.ID, services.InviteInput{InviterID: "a1", AgentID: "a1"})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	inv, err := h.rooms.InviteAgent(h.ctx, room.ID, services.InviteInput{InviterID: "a1", AgentID: "a2", AgentEmail: "a2@example.com"})
	require.NoError(t, err)
	require.Equal(t, chat.InviteAgent, inv.Kind)

	view, err := h.rooms.AcceptInvitation(h.ctx, room.ID, "a2", chat.Profile{Name: "a2"})
	require.NoError(t, err)
	require.Equal(t, chat.StateMultiAgent, view.State)
	require.Equal(t, "a1", *view.Room.PrimaryAgentID)

	_, err = h.rooms.AcceptInvitation(h.ctx, room.ID, "a2", chat.Profile{})
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	entries, err := h.history.ForRoom(h.ctx, room.ID)
	require.NoError(t, err)
	joined := historyFor(entries, agentPID(room.ID, "a2"))
	require.Len(t, joined, 1)
	require.Equal(t, chat.ReasonAgentInvitation, joined[0].Reason)

	h.pump()
	require.Len(t, h.mail.To("a2@example.com"), 1)
}

func TestAgentInvitationRejectedAndExpired(t *testing.T) {
	h := newHarness(t)
	h.online("a1", 3)
	h.online("a2", 3)
	room := h.openRoom("").Room
	h.join(room.ID, "a1")

	_, err := h.rooms.InviteAgent(h.ctx, room.ID, services.InviteInput{InviterID: "a1", AgentID: "a2"})
	require.NoError(t, err)
	require.NoError(t, h.rooms.RejectInvitation(h.ctx, room.ID, "a2"))
	_, err = h.rooms.AcceptInvitation(h.ctx, room.ID, "a2", chat.Profile{})
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = h.rooms.InviteAgent(h.ctx, room.ID, services.InviteInput{InviterID: "a1", AgentID: "a2"})
	require.NoError(t, err)
	h.advance(h.cfg.Rooms.InvitationTTL)
	_, err = h.rooms.AcceptInvitation(h.ctx, room.ID, "a2", chat.Profile{})
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	require.Equal(t, 0, h.status("a2").CurrentChats)
}

func TestDepartments(t *testing.T) {
	h := newHarness(t)
	for _, d := range []chat.Department{
		{ID: "billing", TenantID: tenant, Name: "Billing", Email: "billing@example.com", CreatedAt: start, UpdatedAt: start},
		{ID: "sales", TenantID: tenant, Name: "Sales", CreatedAt: start, UpdatedAt: start},
		{ID: "elsewhere", TenantID: "t2", Name: "Elsewhere", CreatedAt: start, UpdatedAt: start},
	} {
		require.NoError(t, h.durable.Departments.Upsert(h.ctx, &d))
	}
	h.online("a1", 3)
	h.online("a2", 3)
	room := h.openRoom("").Room
	h.join(room.ID, "a1")

	_, err := h.rooms.InviteDepartment(h.ctx, room.ID, "a1", "elsewhere")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = h.rooms.InviteDepartment(h.ctx, room.ID, "a1", "missing")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	inv, err := h.rooms.InviteDepartment(h.ctx, room.ID, "a1", "billing")
	require.NoError(t, err)
	require.Equal(t, chat.InviteDepartment, inv.Kind)
	_, err = h.rooms.InviteDepartment(h.ctx, room.ID, "a1", "billing")
	require.ErrorIs(t, err, apperrors.ErrValidation)

	got, err := h.rooms.GetRoom(h.ctx, room.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"billing"}, got.Room.CandidateDepartmentIDs)

	view, err := h.rooms.AcceptDepartmentInvitation(h.ctx, room.ID, "billing", "a2", chat.Profile{Name: "a2"})
	require.NoError(t, err)
	require.Equal(t, chat.StateMultiAgent, view.State)

	_, err = h.rooms.InviteDepartment(h.ctx, room.ID, "a1", "sales")
	require.NoError(t, err)
	view, err = h.rooms.RejectDepartmentInvitation(h.ctx, room.ID, "sales")
	require.NoError(t, err)
	require.Equal(t, []string{"billing"}, view.Room.CandidateDepartmentIDs)

	view, err = h.rooms.TransferDepartment(h.ctx, room.ID, "billing")
	require.NoError(t, err)
	require.Equal(t, "billing", *view.Room.DepartmentID)
	require.Empty(t, view.Room.CandidateDepartmentIDs)

	h.pump()
	require.Len(t, h.mail.To("billing@example.com"), 2)
	durable, err := h.durable.Rooms.FindByID(h.ctx, room.ID)
	require.NoError(t, err)
	require.Equal(t, "billing", *durable.DepartmentID)
}
