package chat

import "time"

type SessionType string

const (
	VisitorSession SessionType = "visitor_session"
	AgentSession   SessionType = "agent_session"
)

type HistoryAction string

const (
	ActionJoined      HistoryAction = "joined"
	ActionLeft        HistoryAction = "left"
	ActionTransferred HistoryAction = "transferred"
	ActionEscalated   HistoryAction = "escalated"
)

type HistoryReason string

const (
	ReasonVisitorStarted       HistoryReason = "visitor_started"
	ReasonVisitorLeft          HistoryReason = "visitor_left"
	ReasonAgentAssignment      HistoryReason = "agent_assignment"
	ReasonAgentInvitation      HistoryReason = "agent_invitation"
	ReasonDepartmentInvitation HistoryReason = "department_invitation"
	ReasonAgentTransfer        HistoryReason = "agent_transfer"
	ReasonPrimaryAgentRemoved  HistoryReason = "primary_agent_removed"
	ReasonAgentLeft            HistoryReason = "agent_left"
	ReasonRoomEnded            HistoryReason = "room_ended"
)

// HistoryEntry is an append-only audit row. A joined row may be patched once with
// EndedAt and DurationSeconds when its matching left row is written.
type HistoryEntry struct {
	ID              string        `json:"id"`
	RoomID          string        `json:"roomId"`
	TenantID        string        `json:"tenantId"`
	SessionType     SessionType   `json:"sessionType"`
	ParticipantID   string        `json:"participantId"`
	Action          HistoryAction `json:"action"`
	Reason          HistoryReason `json:"reason"`
	StartedAt       time.Time     `json:"startedAt"`
	EndedAt         *time.Time    `json:"endedAt,omitempty"`
	DurationSeconds *int64        `json:"durationSeconds,omitempty"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

func SessionTypeFor(role Role) SessionType {
	if role == RoleAgent {
		return AgentSession
	}
	return VisitorSession
}

// HistoryPatch closes a joined row.
type HistoryPatch struct {
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	DurationSeconds *int64     `json:"durationSeconds,omitempty"`
	At              time.Time  `json:"at"`
}

func (p HistoryPatch) Apply(h *HistoryEntry) {
	if h.EndedAt != nil {
		return
	}
	if p.EndedAt != nil {
		t := *p.EndedAt
		h.EndedAt = &t
	}
	if p.DurationSeconds != nil {
		d := *p.DurationSeconds
		h.DurationSeconds = &d
	}
	if p.At.After(h.UpdatedAt) {
		h.UpdatedAt = p.At
	}
}

func (p HistoryPatch) Stamp() time.Time { return p.At }

// Close returns the patch that ends a joined row at t.
func Close(startedAt, t time.Time) HistoryPatch {
	d := int64(t.Sub(startedAt) / time.Second)
	if d < 0 {
		d = 0
	}
	return HistoryPatch{EndedAt: &t, DurationSeconds: &d, At: t}
}
