package chat

import "time"

type SenderKind string

const (
	SenderVisitor SenderKind = "visitor"
	SenderAgent   SenderKind = "agent"
	SenderSystem  SenderKind = "system"
)

type Message struct {
	ID         string     `json:"id"`
	RoomID     string     `json:"roomId"`
	TenantID   string     `json:"tenantId"`
	SenderKind SenderKind `json:"senderKind"`
	SenderID   string     `json:"senderId"`
	Body       string     `json:"body"`
	Internal   bool       `json:"internal"`
	CreatedAt  time.Time  `json:"createdAt"`
}
