package services

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/chat"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/jobs"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/security"
)

// TransferInput asks ToAgentID to take over the primary role from FromAgentID.
type TransferInput struct {
	FromAgentID string `json:"fromAgentId"`
	ToAgentID   string `json:"toAgentId"`
	ToEmail     string `json:"toEmail,omitempty"`
	Note        string `json:"note,omitempty"`
}

// InviteInput asks AgentID to join as an additional agent.
type InviteInput struct {
	InviterID  string `json:"inviterId"`
	AgentID    string `json:"agentId"`
	AgentEmail string `json:"agentEmail,omitempty"`
}

// ====== Agent transfer ======

// RequestTransfer stores a pending hand-off with a TTL and notifies the target.
func (s *RoomService) RequestTransfer(ctx context.Context, roomID string, in TransferInput) (chat.TransferRequest, error) {
	var req chat.TransferRequest
	err := s.locker.WithRoom(ctx, roomID, func(ctx context.Context) error {
		room, _, err := s.activeRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if !room.IsPrimary(in.FromAgentID) {
			return apperrors.Validation("only the primary agent can transfer room %s", roomID)
		}
		if in.ToAgentID == "" || in.ToAgentID == in.FromAgentID {
			return apperrors.Validation("transfer needs a different target agent")
		}

		at := s.clock.Now()
		req = chat.TransferRequest{
			ID:          security.GenerateULID(),
			RoomID:      roomID,
			TenantID:    room.TenantID,
			FromAgentID: in.FromAgentID,
			ToAgentID:   in.ToAgentID,
			Note:        in.Note,
			CreatedAt:   at,
			ExpiresAt:   at.Add(s.rooms.TransferTTL),
		}
		if !s.cache.Set(ctx, caching.TransferKey(roomID), req, s.rooms.TransferTTL) {
			return apperrors.Unavailable("store transfer request", errCacheUnavailable)
		}

		s.notify.Notify(ctx, jobs.SendNotification{
			TenantID: room.TenantID,
			Kind:     jobs.NotifyTransferRequest,
			RoomID:   roomID,
			To:       in.ToEmail,
			Subject:  "Chat transfer request",
			Text:     transferText(in, s.rooms.TransferTTL),
		})
		s.logger.Room().Info().Str("roomId", roomID).Str("from", in.FromAgentID).Str("to", in.ToAgentID).Msg("Transfer requested")
		return nil
	})
	return req, err
}

// AcceptTransfer hands the primary role to the requested agent. The incoming
// agent is admitted before the outgoing primary is taken offline.
func (s *RoomService) AcceptTransfer(ctx context.Context, roomID, agentID string, profile chat.Profile) (RoomView, error) {
	var view RoomView
	err := s.locker.WithRoom(ctx, roomID, func(ctx context.Context) error {
		key := caching.TransferKey(roomID)
		var req chat.TransferRequest
		if err := s.pending(ctx, key, &req, "transfer request", roomID); err != nil {
			return err
		}
		if req.ToAgentID != agentID {
			return apperrors.Validation("transfer request for room %s is addressed to another agent", roomID)
		}
		at := s.clock.Now()
		if !at.Before(req.ExpiresAt) {
			s.cache.Delete(ctx, key)
			return apperrors.NotFound("transfer request", roomID)
		}

		room, ps, err := s.activeRoom(ctx, roomID)
		if err != nil {
			return err
		}
		out, ok := findParticipant(ps, chat.ParticipantID(roomID, chat.AgentMember{AgentID: req.FromAgentID}))
		if !room.IsPrimary(req.FromAgentID) || !ok || !out.IsActive() {
			s.cache.Delete(ctx, key)
			return apperrors.Validation("transfer request for room %s is stale", roomID)
		}

		member := chat.AgentMember{AgentID: agentID}
		in, found := findParticipant(ps, chat.ParticipantID(roomID, member))
		present := found && in.IsActive()
		if !present {
			if err := s.admit(ctx, agentID); err != nil {
				return err
			}
			if _, err := s.agents.Acquire(ctx, agentID, roomID); err != nil {
				s.logRejection(roomID, agentID, err)
				return err
			}
		}

		if out, err = s.offline(ctx, out, at); err != nil {
			if !present {
				s.releaseAfterFailure(ctx, agentID, roomID)
			}
			return err
		}
		ps = replaceParticipant(ps, out)
		if !present {
			if in, err = s.activate(ctx, room, member, in, found, profile, at); err != nil {
				s.releaseAfterFailure(ctx, agentID, roomID)
				return fmt.Errorf("failed to add agent to room: %w", err)
			}
			ps = replaceParticipant(ps, in)
		}

		if room, err = s.setPrimary(ctx, roomID, &agentID, at); err != nil {
			return err
		}
		// A present agent keeps its open session row; only the outgoing side
		// is written and the transfer reads from its reason.
		if present {
			_, err = s.history.Left(ctx, out, chat.ReasonAgentTransfer, at)
		} else {
			err = s.history.Transferred(ctx, out, in, at)
		}
		if err != nil {
			return fmt.Errorf("failed to record transfer: %w", err)
		}
		s.cache.Delete(ctx, key)

		s.logger.Room().Info().Str("roomId", roomID).Str("from", req.FromAgentID).Str("to", agentID).Msg("Room transferred")
		view = s.view(room, ps)
		return nil
	})
	return view, err
}

// RejectTransfer discards the pending request. The target or the requester may reject it.
func (s *RoomService) RejectTransfer(ctx context.Context, roomID, agentID string) error {
	return s.locker.WithRoom(ctx, roomID, func(ctx context.Context) error {
		key := caching.TransferKey(roomID)
		var req chat.TransferRequest
		if err := s.pending(ctx, key, &req, "transfer request", roomID); err != nil {
			return err
		}
		if req.ToAgentID != agentID && req.FromAgentID != agentID {
			return apperrors.Validation("agent %s is not part of the transfer request", agentID)
		}
		s.cache.Delete(ctx, key)
		s.logger.Room().Info().Str("roomId", roomID).Str("agentId", agentID).Msg("Transfer rejected")
		return nil
	})
}

// PendingTransfer returns the room's pending transfer request.
func (s *RoomService) PendingTransfer(ctx context.Context, roomID string) (chat.TransferRequest, error) {
	var req chat.TransferRequest
	if err := s.pending(ctx, caching.TransferKey(roomID), &req, "transfer request", roomID); err != nil {
		return req, err
	}
	if !s.clock.Now().Before(req.ExpiresAt) {
		return chat.TransferRequest{}, apperrors.NotFound("transfer request", roomID)
	}
	return req, nil
}

// ====== Agent invitation ======

// InviteAgent invites an additional agent. Only an active agent may invite.
func (s *RoomService) InviteAgent(ctx context.Context, roomID string, in InviteInput) (chat.Invitation, error) {
	var inv chat.Invitation
	err := s.locker.WithRoom(ctx, roomID, func(ctx context.Context) error {
		room, ps, err := s.activeRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if !hasActiveAgent(ps, in.InviterID) {
			return apperrors.Validation("agent %s is not active in room %s", in.InviterID, roomID)
		}
		if in.AgentID == "" || hasActiveAgent(ps, in.AgentID) {
			return apperrors.Validation("agent %q cannot be invited to room %s", in.AgentID, roomID)
		}

		inv = s.invitation(room, chat.InviteAgent, in.InviterID, in.AgentID)
		if err := s.storeInvitation(ctx, inv); err != nil {
			return err
		}
		s.notify.Notify(ctx, jobs.SendNotification{
			TenantID: room.TenantID,
			Kind:     jobs.NotifyAgentInvitation,
			RoomID:   roomID,
			To:       in.AgentEmail,
			Subject:  "You have been invited to a chat",
			Text:     fmt.Sprintf("Agent %s invited you to join a live chat.\n\nThe invitation expires in %s.", in.InviterID, s.rooms.InvitationTTL),
		})
		s.logger.Room().Info().Str("roomId", roomID).Str("inviter", in.InviterID).Str("agentId", in.AgentID).Msg("Agent invited")
		return nil
	})
	return inv, err
}

// AcceptInvitation joins the invited agent as an additional agent.
func (s *RoomService) AcceptInvitation(ctx context.Context, roomID, agentID string, profile chat.Profile) (RoomView, error) {
	return s.acceptInvitation(ctx, roomID, chat.InviteAgent, agentID, agentID, profile, chat.ReasonAgentInvitation)
}

func (s *RoomService) RejectInvitation(ctx context.Context, roomID, agentID string) error {
	return s.locker.WithRoom(ctx, roomID, func(ctx context.Context) error {
		key := caching.InvitationKey(roomID, string(chat.InviteAgent), agentID)
		var inv chat.Invitation
		if err := s.pending(ctx, key, &inv, "invitation", agentID); err != nil {
			return err
		}
		s.cache.Delete(ctx, key)
		s.logger.Room().Info().Str("roomId", roomID).Str("agentId", agentID).Msg("Invitation rejected")
		return nil
	})
}

// ====== Departments ======

// TransferDepartment makes deptID the serving department.
func (s *RoomService) TransferDepartment(ctx context.Context, roomID, deptID string) (RoomView, error) {
	var view RoomView
	err := s.locker.WithRoom(ctx, roomID, func(ctx context.Context) error {
		room, ps, err := s.activeRoom(ctx, roomID)
		if err != nil {
			return err
		}
		dept, err := s.department(ctx, room.TenantID, deptID)
		if err != nil {
			return err
		}
		candidates := slices.DeleteFunc(slices.Clone(room.CandidateDepartmentIDs), func(id string) bool { return id == deptID })
		at := s.clock.Now()
		room, err = s.stores.Rooms.Update(ctx, roomID, chat.RoomPatch{DepartmentID: &dept.ID, CandidateDepartmentIDs: &candidates, At: at})
		if err != nil {
			return fmt.Errorf("failed to transfer department: %w", err)
		}
		s.notify.Notify(ctx, jobs.SendNotification{
			TenantID: room.TenantID,
			Kind:     jobs.NotifyTransferRequest,
			RoomID:   roomID,
			To:       dept.Email,
			Subject:  "Chat transferred to " + dept.Name,
			Text:     "A live chat has been transferred to your department.",
		})
		s.logger.Room().Info().Str("roomId", roomID).Str("departmentId", deptID).Msg("Department transferred")
		view = s.view(room, ps)
		return nil
	})
	return view, err
}

// InviteDepartment adds deptID to the candidate set and notifies the department.
func (s *RoomService) InviteDepartment(ctx context.Context, roomID, inviterID, deptID string) (chat.Invitation, error) {
	var inv chat.Invitation
	err := s.locker.WithRoom(ctx, roomID, func(ctx context.Context) error {
		room, ps, err := s.activeRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if !hasActiveAgent(ps, inviterID) {
			return apperrors.Validation("agent %s is not active in room %s", inviterID, roomID)
		}
		dept, err := s.department(ctx, room.TenantID, deptID)
		if err != nil {
			return err
		}
		if room.HasDepartment(deptID) {
			return apperrors.Validation("department %s is already associated with room %s", deptID, roomID)
		}

		at := s.clock.Now()
		candidates := append(slices.Clone(room.CandidateDepartmentIDs), deptID)
		if room, err = s.stores.Rooms.Update(ctx, roomID, chat.RoomPatch{CandidateDepartmentIDs: &candidates, At: at}); err != nil {
			return fmt.Errorf("failed to invite department: %w", err)
		}
		inv = s.invitation(room, chat.InviteDepartment, inviterID, deptID)
		if err := s.storeInvitation(ctx, inv); err != nil {
			return err
		}
		s.notify.Notify(ctx, jobs.SendNotification{
			TenantID: room.TenantID,
			Kind:     jobs.NotifyDepartmentInvitation,
			RoomID:   roomID,
			To:       dept.Email,
			Subject:  dept.Name + " has been invited to a chat",
			Text:     fmt.Sprintf("Agent %s invited your department to join a live chat.\n\nAny available agent can accept.", inviterID),
		})
		s.logger.Room().Info().Str("roomId", roomID).Str("departmentId", deptID).Msg("Department invited")
		return nil
	})
	return inv, err
}

// AcceptDepartmentInvitation joins an agent on behalf of the invited department.
func (s *RoomService) AcceptDepartmentInvitation(ctx context.Context, roomID, deptID, agentID string, profile chat.Profile) (RoomView, error) {
	return s.acceptInvitation(ctx, roomID, chat.InviteDepartment, deptID, agentID, profile, chat.ReasonDepartmentInvitation)
}

// RejectDepartmentInvitation drops the invitation and the candidate department.
func (s *RoomService) RejectDepartmentInvitation(ctx context.Context, roomID, deptID string) (RoomView, error) {
	var view RoomView
	err := s.locker.WithRoom(ctx, roomID, func(ctx context.Context) error {
		key := caching.InvitationKey(roomID, string(chat.InviteDepartment), deptID)
		var inv chat.Invitation
		if err := s.pending(ctx, key, &inv, "invitation", deptID); err != nil {
			return err
		}
		room, ps, err := s.activeRoom(ctx, roomID)
		if err != nil {
			return err
		}
		candidates := slices.DeleteFunc(slices.Clone(room.CandidateDepartmentIDs), func(id string) bool { return id == deptID })
		if room, err = s.stores.Rooms.Update(ctx, roomID, chat.RoomPatch{CandidateDepartmentIDs: &candidates, At: s.clock.Now()}); err != nil {
			return fmt.Errorf("failed to reject department invitation: %w", err)
		}
		s.cache.Delete(ctx, key)
		s.logger.Room().Info().Str("roomId", roomID).Str("departmentId", deptID).Msg("Department invitation rejected")
		view = s.view(room, ps)
		return nil
	})
	return view, err
}

// ====== pending entries ======

func (s *RoomService) acceptInvitation(ctx context.Context, roomID string, kind chat.InvitationKind, targetID, agentID string, profile chat.Profile, reason chat.HistoryReason) (RoomView, error) {
	var view RoomView
	err := s.locker.WithRoom(ctx, roomID, func(ctx context.Context) error {
		key := caching.InvitationKey(roomID, string(kind), targetID)
		var inv chat.Invitation
		if err := s.pending(ctx, key, &inv, "invitation", targetID); err != nil {
			return err
		}
		if !s.clock.Now().Before(inv.ExpiresAt) {
			s.cache.Delete(ctx, key)
			return apperrors.NotFound("invitation", targetID)
		}
		var err error
		if view, err = s.join(ctx, roomID, agentID, profile, reason); err != nil {
			return err
		}
		s.cache.Delete(ctx, key)
		return nil
	})
	return view, err
}

func (s *RoomService) invitation(room chat.Room, kind chat.InvitationKind, inviterID, targetID string) chat.Invitation {
	at := s.clock.Now()
	return chat.Invitation{
		ID:        security.GenerateULID(),
		RoomID:    room.ID,
		TenantID:  room.TenantID,
		Kind:      kind,
		InviterID: inviterID,
		TargetID:  targetID,
		CreatedAt: at,
		ExpiresAt: at.Add(s.rooms.InvitationTTL),
	}
}

func (s *RoomService) storeInvitation(ctx context.Context, inv chat.Invitation) error {
	key := caching.InvitationKey(inv.RoomID, string(inv.Kind), inv.TargetID)
	if !s.cache.Set(ctx, key, inv, s.rooms.InvitationTTL) {
		return apperrors.Unavailable("store invitation", errCacheUnavailable)
	}
	return nil
}

// pending reads a cache-only entry. Those entries have no durable fallback.
func (s *RoomService) pending(ctx context.Context, key string, dst any, entity, id string) error {
	switch s.cache.Get(ctx, key, dst) {
	case caching.Hit:
		return nil
	case caching.Miss:
		return apperrors.NotFound(entity, id)
	default:
		return apperrors.Unavailable("read "+entity, errCacheUnavailable)
	}
}

func transferText(in TransferInput, ttl time.Duration) string {
	text := fmt.Sprintf("Agent %s asked you to take over a live chat.", in.FromAgentID)
	if in.Note != "" {
		text += "\n\nNote: " + in.Note
	}
	return text + fmt.Sprintf("\n\nThe request expires in %s.", ttl)
}
