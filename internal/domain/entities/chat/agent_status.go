package chat

import "time"

type Presence string

const (
	PresenceOnline  Presence = "ONLINE"
	PresenceBusy    Presence = "BUSY"
	PresenceOffline Presence = "OFFLINE"
)

// AgentStatus is the per-agent capacity singleton. 0 <= CurrentChats <= MaxConcurrentChats,
// and CurrentChats > 0 implies Status != OFFLINE.
type AgentStatus struct {
	UserID             string    `json:"userId"`
	TenantID           string    `json:"tenantId"`
	Status             Presence  `json:"status"`
	CurrentChats       int       `json:"currentChats"`
	MaxConcurrentChats int       `json:"maxConcurrentChats"`
	CurrentRoomID      *string   `json:"currentRoomId,omitempty"`
	LastSeenAt         time.Time `json:"lastSeenAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Valid reports whether the capacity invariants hold.
func (s *AgentStatus) Valid() bool {
	if s.MaxConcurrentChats <= 0 || s.CurrentChats < 0 || s.CurrentChats > s.MaxConcurrentChats {
		return false
	}
	return !(s.CurrentChats > 0 && s.Status == PresenceOffline)
}
