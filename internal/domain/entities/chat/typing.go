package chat

import "time"

type TypingEvent struct {
	RoomID        string    `json:"roomId"`
	ParticipantID string    `json:"participantId"`
	IsTyping      bool      `json:"isTyping"`
	CreatedAt     time.Time `json:"createdAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

func (t *TypingEvent) Expired(now time.Time) bool { return !now.Before(t.ExpiresAt) }
