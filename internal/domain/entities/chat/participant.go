package chat

import (
	"fmt"
	"time"
)

type Role string

const (
	RoleVisitor Role = "visitor"
	RoleAgent   Role = "agent"
)

type ParticipantStatus string

const (
	ParticipantActive  ParticipantStatus = "ACTIVE"
	ParticipantOffline ParticipantStatus = "OFFLINE"
)

// Member identifies who a participant is. Exactly one of the two variants exists per participant.
type Member interface {
	Role() Role
	UserID() string
	isMember()
}

type VisitorMember struct{ VisitorID string }

func (VisitorMember) Role() Role       { return RoleVisitor }
func (m VisitorMember) UserID() string { return m.VisitorID }
func (VisitorMember) isMember()        {}

type AgentMember struct{ AgentID string }

func (AgentMember) Role() Role       { return RoleAgent }
func (m AgentMember) UserID() string { return m.AgentID }
func (AgentMember) isMember()        {}

// Profile holds the display fields shown to other participants.
type Profile struct {
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

type Participant struct {
	ID        string            `json:"id"`
	RoomID    string            `json:"roomId"`
	TenantID  string            `json:"tenantId"`
	Role      Role              `json:"role"`
	UserID    string            `json:"userId"`
	Profile   Profile           `json:"profile"`
	Status    ParticipantStatus `json:"status"`
	JoinedAt  time.Time         `json:"joinedAt"`
	LeftAt    *time.Time        `json:"leftAt,omitempty"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// ParticipantID is deterministic so a (room, user) pair always maps to the same row.
func ParticipantID(roomID string, m Member) string {
	return fmt.Sprintf("%s:%s:%s", roomID, m.Role(), m.UserID())
}

// NewParticipant builds an ACTIVE participant for member m.
func NewParticipant(tenantID, roomID string, m Member, profile Profile, at time.Time) *Participant {
	return &Participant{
		ID:        ParticipantID(roomID, m),
		RoomID:    roomID,
		TenantID:  tenantID,
		Role:      m.Role(),
		UserID:    m.UserID(),
		Profile:   profile,
		Status:    ParticipantActive,
		JoinedAt:  at,
		UpdatedAt: at,
	}
}

// Member returns the sum-typed identity of the participant.
func (p *Participant) Member() Member {
	if p.Role == RoleAgent {
		return AgentMember{AgentID: p.UserID}
	}
	return VisitorMember{VisitorID: p.UserID}
}

func (p *Participant) IsActive() bool { return p.Status == ParticipantActive }

func (p *Participant) IsActiveAgent() bool { return p.Role == RoleAgent && p.IsActive() }

// ParticipantPatch carries only the fields a transition changed.
type ParticipantPatch struct {
	Status      *ParticipantStatus `json:"status,omitempty"`
	JoinedAt    *time.Time         `json:"joinedAt,omitempty"`
	LeftAt      *time.Time         `json:"leftAt,omitempty"`
	ClearLeftAt bool               `json:"clearLeftAt,omitempty"`
	Profile     *Profile           `json:"profile,omitempty"`
	At          time.Time          `json:"at"`
}

func (p ParticipantPatch) Apply(pt *Participant) {
	if p.Status != nil {
		pt.Status = *p.Status
	}
	if p.JoinedAt != nil {
		pt.JoinedAt = *p.JoinedAt
	}
	if p.ClearLeftAt {
		pt.LeftAt = nil
	}
	if p.LeftAt != nil {
		t := *p.LeftAt
		pt.LeftAt = &t
	}
	if p.Profile != nil {
		pt.Profile = *p.Profile
	}
	if p.At.After(pt.UpdatedAt) {
		pt.UpdatedAt = p.At
	}
}

func (p ParticipantPatch) Stamp() time.Time { return p.At }

// Offline returns the patch that marks a participant as having left at t.
func Offline(t time.Time) ParticipantPatch {
	status := ParticipantOffline
	return ParticipantPatch{Status: &status, LeftAt: &t, At: t}
}

// Rejoin returns the patch that reactivates an existing participant row.
func Rejoin(t time.Time, profile Profile) ParticipantPatch {
	status := ParticipantActive
	return ParticipantPatch{Status: &status, JoinedAt: &t, ClearLeftAt: true, Profile: &profile, At: t}
}
