package chat

import "time"

// TransferRequest is a pending hand-off of the primary role. It lives only in the cache.
type TransferRequest struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"roomId"`
	TenantID    string    `json:"tenantId"`
	FromAgentID string    `json:"fromAgentId"`
	ToAgentID   string    `json:"toAgentId"`
	Note        string    `json:"note,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type InvitationKind string

const (
	InviteAgent      InvitationKind = "agent"
	InviteDepartment InvitationKind = "department"
)

// Invitation asks an agent or a department to join a room. It lives only in the cache.
type Invitation struct {
	ID        string         `json:"id"`
	RoomID    string         `json:"roomId"`
	TenantID  string         `json:"tenantId"`
	Kind      InvitationKind `json:"kind"`
	InviterID string         `json:"inviterId"`
	TargetID  string         `json:"targetId"`
	CreatedAt time.Time      `json:"createdAt"`
	ExpiresAt time.Time      `json:"expiresAt"`
}
