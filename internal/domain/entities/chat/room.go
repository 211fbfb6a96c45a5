// Package chat defines the live support-chat domain: rooms, participants,
// agent presence, messages, analytics, session history and typing state.
package chat

import (
	"slices"
	"time"
)

// RoomState is derived from the number of active agents and ended-at; it is never stored.
type RoomState string

const (
	StateNoAgent     RoomState = "NO_AGENT"
	StateSingleAgent RoomState = "SINGLE_AGENT"
	StateMultiAgent  RoomState = "MULTI_AGENT"
	StateEnded       RoomState = "ENDED"
)

type Room struct {
	ID                     string     `json:"id"`
	TenantID               string     `json:"tenantId"`
	VisitorSessionID       string     `json:"visitorSessionId"`
	VisitorID              string     `json:"visitorId"`
	PrimaryAgentID         *string    `json:"primaryAgentId,omitempty"`
	DepartmentID           *string    `json:"departmentId,omitempty"`
	CandidateDepartmentIDs []string   `json:"candidateDepartmentIds,omitempty"`
	CreatedAt              time.Time  `json:"createdAt"`
	LastActivityAt         time.Time  `json:"lastActivityAt"`
	EndedAt                *time.Time `json:"endedAt,omitempty"`
	UpdatedAt              time.Time  `json:"updatedAt"`
}

func (r *Room) IsEnded() bool { return r.EndedAt != nil }

func (r *Room) IsPrimary(agentID string) bool {
	return r.PrimaryAgentID != nil && *r.PrimaryAgentID == agentID
}

// HasDepartment reports whether deptID is serving or a candidate for the room.
func (r *Room) HasDepartment(deptID string) bool {
	if r.DepartmentID != nil && *r.DepartmentID == deptID {
		return true
	}
	return slices.Contains(r.CandidateDepartmentIDs, deptID)
}

// DeriveState computes the room state from the number of active agent participants.
func DeriveState(r *Room, activeAgents int) RoomState {
	switch {
	case r.IsEnded():
		return StateEnded
	case activeAgents == 0:
		return StateNoAgent
	case activeAgents == 1:
		return StateSingleAgent
	default:
		return StateMultiAgent
	}
}

// RoomPatch carries only the fields a transition changed.
type RoomPatch struct {
	PrimaryAgentID         *string    `json:"primaryAgentId,omitempty"`
	ClearPrimaryAgent      bool       `json:"clearPrimaryAgent,omitempty"`
	DepartmentID           *string    `json:"departmentId,omitempty"`
	CandidateDepartmentIDs *[]string  `json:"candidateDepartmentIds,omitempty"`
	LastActivityAt         *time.Time `json:"lastActivityAt,omitempty"`
	EndedAt                *time.Time `json:"endedAt,omitempty"`
	At                     time.Time  `json:"at"`
}

func (p RoomPatch) Apply(r *Room) {
	if p.ClearPrimaryAgent {
		r.PrimaryAgentID = nil
	}
	if p.PrimaryAgentID != nil {
		id := *p.PrimaryAgentID
		r.PrimaryAgentID = &id
	}
	if p.DepartmentID != nil {
		id := *p.DepartmentID
		r.DepartmentID = &id
	}
	if p.CandidateDepartmentIDs != nil {
		r.CandidateDepartmentIDs = slices.Clone(*p.CandidateDepartmentIDs)
	}
	if p.LastActivityAt != nil {
		r.LastActivityAt = *p.LastActivityAt
	}
	if p.EndedAt != nil {
		t := *p.EndedAt
		r.EndedAt = &t
	}
	if p.At.After(r.UpdatedAt) {
		r.UpdatedAt = p.At
	}
}

func (p RoomPatch) Stamp() time.Time { return p.At }
