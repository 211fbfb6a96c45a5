// Package services holds pure domain decisions that every transition path must consult.
package services

import (
	"time"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/chat"
)

// Admit decides whether an agent may take another chat. It returns a
// *apperrors.CapacityError when the agent is OFFLINE or already at capacity.
func Admit(s chat.AgentStatus) error {
	if s.Status == chat.PresenceOffline || s.CurrentChats >= s.MaxConcurrentChats {
		return &apperrors.CapacityError{
			AgentID: s.UserID,
			Status:  string(s.Status),
			Current: s.CurrentChats,
			Max:     s.MaxConcurrentChats,
		}
	}
	return nil
}

// Acquire is the bounded increment: it re-runs Admit, takes one slot and
// flips ONLINE to BUSY on the first concurrent chat.
func Acquire(s chat.AgentStatus, roomID string, at time.Time) (chat.AgentStatus, error) {
	if err := Admit(s); err != nil {
		return s, err
	}
	s.CurrentChats++
	if s.Status == chat.PresenceOnline {
		s.Status = chat.PresenceBusy
	}
	if roomID != "" {
		id := roomID
		s.CurrentRoomID = &id
	}
	s.LastSeenAt = at
	s.UpdatedAt = at
	return s, nil
}

// Release gives back one slot, flooring at zero, and flips BUSY to ONLINE when idle.
func Release(s chat.AgentStatus, roomID string, at time.Time) chat.AgentStatus {
	if s.CurrentChats > 0 {
		s.CurrentChats--
	}
	if s.CurrentChats == 0 {
		if s.Status == chat.PresenceBusy {
			s.Status = chat.PresenceOnline
		}
		s.CurrentRoomID = nil
	} else if s.CurrentRoomID != nil && *s.CurrentRoomID == roomID {
		s.CurrentRoomID = nil
	}
	s.LastSeenAt = at
	s.UpdatedAt = at
	return s
}

// SetPresence applies a manual presence change. Going OFFLINE while holding chats is rejected.
func SetPresence(s chat.AgentStatus, p chat.Presence, at time.Time) (chat.AgentStatus, error) {
	switch p {
	case chat.PresenceOnline, chat.PresenceOffline, chat.PresenceBusy:
	default:
		return s, apperrors.Validation("unknown presence %q", p)
	}
	if p == chat.PresenceOffline && s.CurrentChats > 0 {
		return s, apperrors.Validation("agent %s still holds %d chats", s.UserID, s.CurrentChats)
	}
	if p == chat.PresenceOnline && s.CurrentChats > 0 {
		p = chat.PresenceBusy
	}
	s.Status = p
	s.LastSeenAt = at
	s.UpdatedAt = at
	return s, nil
}

// SetCapacity changes the maximum; it may not drop below the chats currently held.
func SetCapacity(s chat.AgentStatus, limit int, at time.Time) (chat.AgentStatus, error) {
	if limit <= 0 {
		return s, apperrors.Validation("max concurrent chats must be positive")
	}
	if limit < s.CurrentChats {
		return s, apperrors.Validation("max concurrent chats %d is below current %d", limit, s.CurrentChats)
	}
	s.MaxConcurrentChats = limit
	s.UpdatedAt = at
	return s, nil
}
