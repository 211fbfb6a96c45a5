package jobs

import (
	"fmt"
	"strconv"
	"time"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/chat"
)

const (
	TypeRoomOpened          Type = "analytics.room_opened"
	TypeParticipantJoined   Type = "analytics.participant_joined"
	TypeMessageRecorded     Type = "analytics.message_recorded"
	TypeRoomEnded           Type = "analytics.room_ended"
	TypeRecomputeEngagement Type = "analytics.engagement"
)

type RoomOpened struct {
	RoomID   string    `json:"roomId"`
	TenantID string    `json:"tenantId"`
	At       time.Time `json:"at"`
}

func (RoomOpened) JobType() Type { return TypeRoomOpened }
func (RoomOpened) Queue() string { return QueueAnalytics }
func (j RoomOpened) Validate() error {
	if j.RoomID == "" {
		return fmt.Errorf("room opened: %w", errMissingID)
	}
	return nil
}
func (j RoomOpened) IdempotencyKey() string { return "opened:" + j.RoomID }

// ParticipantJoined counts a participant. Rejoins carry NewParticipant=false
// and only feed first-response-time.
type ParticipantJoined struct {
	RoomID         string    `json:"roomId"`
	TenantID       string    `json:"tenantId"`
	ParticipantID  string    `json:"participantId"`
	Role           chat.Role `json:"role"`
	NewParticipant bool      `json:"newParticipant"`
	JoinedAt       time.Time `json:"joinedAt"`
}

func (ParticipantJoined) JobType() Type { return TypeParticipantJoined }
func (ParticipantJoined) Queue() string { return QueueAnalytics }
func (j ParticipantJoined) Validate() error {
	if j.RoomID == "" || j.ParticipantID == "" {
		return fmt.Errorf("participant joined: %w", errMissingID)
	}
	if j.JoinedAt.IsZero() {
		return fmt.Errorf("participant joined: missing joined-at")
	}
	return nil
}
func (j ParticipantJoined) IdempotencyKey() string {
	return "joined:" + j.ParticipantID + ":" + strconv.FormatInt(j.JoinedAt.UnixMilli(), 10)
}

type MessageRecorded struct {
	RoomID     string          `json:"roomId"`
	TenantID   string          `json:"tenantId"`
	MessageID  string          `json:"messageId"`
	SenderKind chat.SenderKind `json:"senderKind"`
	Internal   bool            `json:"internal"`
	CreatedAt  time.Time       `json:"createdAt"`
}

func (MessageRecorded) JobType() Type { return TypeMessageRecorded }
func (MessageRecorded) Queue() string { return QueueAnalytics }
func (j MessageRecorded) Validate() error {
	if j.RoomID == "" || j.MessageID == "" {
		return fmt.Errorf("message recorded: %w", errMissingID)
	}
	switch j.SenderKind {
	case chat.SenderVisitor, chat.SenderAgent, chat.SenderSystem:
	default:
		return fmt.Errorf("message recorded: unknown sender kind %q", j.SenderKind)
	}
	return nil
}
func (j MessageRecorded) IdempotencyKey() string { return "message:" + j.MessageID }

type RoomEnded struct {
	RoomID    string    `json:"roomId"`
	TenantID  string    `json:"tenantId"`
	CreatedAt time.Time `json:"createdAt"`
	EndedAt   time.Time `json:"endedAt"`
}

func (RoomEnded) JobType() Type { return TypeRoomEnded }
func (RoomEnded) Queue() string { return QueueAnalytics }
func (j RoomEnded) Validate() error {
	if j.RoomID == "" {
		return fmt.Errorf("room ended: %w", errMissingID)
	}
	if j.EndedAt.IsZero() {
		return fmt.Errorf("room ended: missing ended-at")
	}
	return nil
}
func (j RoomEnded) IdempotencyKey() string { return "ended:" + j.RoomID }

// RecomputeEngagement rebuilds a visitor session's engagement from its interactions.
// Recomputation is idempotent so no key is needed.
type RecomputeEngagement struct {
	SessionID string `json:"sessionId"`
	TenantID  string `json:"tenantId"`
}

func (RecomputeEngagement) JobType() Type { return TypeRecomputeEngagement }
func (RecomputeEngagement) Queue() string { return QueueAnalytics }
func (j RecomputeEngagement) Validate() error {
	if j.SessionID == "" {
		return fmt.Errorf("engagement: %w", errMissingID)
	}
	return nil
}
