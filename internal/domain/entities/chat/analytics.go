package chat

import "time"

// Analytics is the per-room aggregate. Counters only move through atomic
// increments; durations are filled once when the room ends and the row freezes.
type Analytics struct {
	RoomID                  string     `json:"roomId"`
	TenantID                string     `json:"tenantId"`
	MessageCount            int        `json:"messageCount"`
	VisitorMessageCount     int        `json:"visitorMessageCount"`
	AgentMessageCount       int        `json:"agentMessageCount"`
	InternalMessageCount    int        `json:"internalMessageCount"`
	ParticipantCount        int        `json:"participantCount"`
	AgentCount              int        `json:"agentCount"`
	FirstResponseTimeMs     *int64     `json:"firstResponseTimeMs,omitempty"`
	AverageResponseTimeMs   float64    `json:"averageResponseTimeMs"`
	ResponseCount           int        `json:"responseCount"`
	ChatDurationSeconds     *int64     `json:"chatDurationSeconds,omitempty"`
	ActiveDurationSeconds   *int64     `json:"activeDurationSeconds,omitempty"`
	FirstVisitorMessageAt   *time.Time `json:"firstVisitorMessageAt,omitempty"`
	PendingVisitorMessageAt *time.Time `json:"pendingVisitorMessageAt,omitempty"`
	FirstMessageAt          *time.Time `json:"firstMessageAt,omitempty"`
	LastMessageAt           *time.Time `json:"lastMessageAt,omitempty"`
	Frozen                  bool       `json:"frozen"`
	CreatedAt               time.Time  `json:"createdAt"`
	UpdatedAt               time.Time  `json:"updatedAt"`
}
