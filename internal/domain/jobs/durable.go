package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/chat"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/visitor"
)

const (
	TypePersistRoom           Type = "room.persist"
	TypeUpdateRoom            Type = "room.update"
	TypePersistParticipant    Type = "participant.persist"
	TypeUpdateParticipant     Type = "participant.update"
	TypePersistMessage        Type = "message.persist"
	TypePersistHistory        Type = "history.persist"
	TypeUpdateHistory         Type = "history.update"
	TypeAgentCapacity         Type = "agent.capacity"
	TypeUpsertAgentStatus     Type = "agent.status"
	TypePersistVisitorSession Type = "visitor_session.persist"
	TypeUpdateVisitorSession  Type = "visitor_session.update"
	TypePersistAttribution    Type = "attribution.persist"
	TypePersistSecurityEvent  Type = "security_event.persist"
	TypePersistInteraction    Type = "interaction.persist"
)

var errMissingID = errors.New("missing id")

// ====== Rooms ======

type PersistRoom struct {
	Room chat.Room `json:"room"`
}

func (PersistRoom) JobType() Type { return TypePersistRoom }
func (PersistRoom) Queue() string { return QueueDurable }
func (j PersistRoom) Validate() error {
	if j.Room.ID == "" || j.Room.TenantID == "" {
		return fmt.Errorf("room: %w", errMissingID)
	}
	return nil
}

type UpdateRoom struct {
	RoomID   string         `json:"roomId"`
	TenantID string         `json:"tenantId"`
	Patch    chat.RoomPatch `json:"patch"`
}

func (UpdateRoom) JobType() Type { return TypeUpdateRoom }
func (UpdateRoom) Queue() string { return QueueDurable }
func (j UpdateRoom) Validate() error {
	if j.RoomID == "" {
		return fmt.Errorf("room update: %w", errMissingID)
	}
	if j.Patch.At.IsZero() {
		return errors.New("room update: missing patch timestamp")
	}
	return nil
}

// ====== Participants ======

type PersistParticipant struct {
	Participant chat.Participant `json:"participant"`
}

func (PersistParticipant) JobType() Type { return TypePersistParticipant }
func (PersistParticipant) Queue() string { return QueueDurable }
func (j PersistParticipant) Validate() error {
	p := j.Participant
	if p.ID == "" || p.RoomID == "" || p.UserID == "" {
		return fmt.Errorf("participant: %w", errMissingID)
	}
	if p.Role != chat.RoleAgent && p.Role != chat.RoleVisitor {
		return fmt.Errorf("participant %s: unknown role %q", p.ID, p.Role)
	}
	return nil
}

type UpdateParticipant struct {
	ParticipantID string                `json:"participantId"`
	RoomID        string                `json:"roomId"`
	Patch         chat.ParticipantPatch `json:"patch"`
}

func (UpdateParticipant) JobType() Type { return TypeUpdateParticipant }
func (UpdateParticipant) Queue() string { return QueueDurable }
func (j UpdateParticipant) Validate() error {
	if j.ParticipantID == "" {
		return fmt.Errorf("participant update: %w", errMissingID)
	}
	if j.Patch.At.IsZero() {
		return errors.New("participant update: missing patch timestamp")
	}
	return nil
}

// ====== Messages & history ======

type PersistMessage struct {
	Message chat.Message `json:"message"`
}

func (PersistMessage) JobType() Type { return TypePersistMessage }
func (PersistMessage) Queue() string { return QueueDurable }
func (j PersistMessage) Validate() error {
	if j.Message.ID == "" || j.Message.RoomID == "" {
		return fmt.Errorf("message: %w", errMissingID)
	}
	return nil
}

type PersistHistory struct {
	Entry chat.HistoryEntry `json:"entry"`
}

func (PersistHistory) JobType() Type { return TypePersistHistory }
func (PersistHistory) Queue() string { return QueueDurable }
func (j PersistHistory) Validate() error {
	if j.Entry.ID == "" || j.Entry.RoomID == "" || j.Entry.ParticipantID == "" {
		return fmt.Errorf("history entry: %w", errMissingID)
	}
	return nil
}

type UpdateHistory struct {
	EntryID string            `json:"entryId"`
	RoomID  string            `json:"roomId"`
	Patch   chat.HistoryPatch `json:"patch"`
}

func (UpdateHistory) JobType() Type { return TypeUpdateHistory }
func (UpdateHistory) Queue() string { return QueueDurable }
func (j UpdateHistory) Validate() error {
	if j.EntryID == "" {
		return fmt.Errorf("history update: %w", errMissingID)
	}
	if j.Patch.EndedAt == nil {
		return errors.New("history update: missing ended-at")
	}
	return nil
}

// ====== Agents ======

// AgentCapacityDelta mirrors one cache-side acquire (+1) or release (-1) into the durable row.
type AgentCapacityDelta struct {
	EventID  string    `json:"eventId"`
	AgentID  string    `json:"agentId"`
	TenantID string    `json:"tenantId"`
	RoomID   string    `json:"roomId"`
	Delta    int       `json:"delta"`
	At       time.Time `json:"at"`
}

func (AgentCapacityDelta) JobType() Type { return TypeAgentCapacity }
func (AgentCapacityDelta) Queue() string { return QueueDurable }
func (j AgentCapacityDelta) Validate() error {
	if j.EventID == "" || j.AgentID == "" {
		return fmt.Errorf("capacity delta: %w", errMissingID)
	}
	if j.Delta != 1 && j.Delta != -1 {
		return fmt.Errorf("capacity delta must be +1 or -1, got %d", j.Delta)
	}
	return nil
}

func (j AgentCapacityDelta) IdempotencyKey() string { return "capacity:" + j.EventID }

type UpsertAgentStatus struct {
	Status chat.AgentStatus `json:"status"`
}

func (UpsertAgentStatus) JobType() Type { return TypeUpsertAgentStatus }
func (UpsertAgentStatus) Queue() string { return QueueDurable }
func (j UpsertAgentStatus) Validate() error {
	if j.Status.UserID == "" {
		return fmt.Errorf("agent status: %w", errMissingID)
	}
	if j.Status.MaxConcurrentChats <= 0 {
		return errors.New("agent status: max concurrent chats must be positive")
	}
	return nil
}

// ====== Visitor families ======

type PersistVisitorSession struct {
	Session visitor.Session `json:"session"`
}

func (PersistVisitorSession) JobType() Type { return TypePersistVisitorSession }
func (PersistVisitorSession) Queue() string { return QueueDurable }
func (j PersistVisitorSession) Validate() error {
	if j.Session.ID == "" || j.Session.TenantID == "" {
		return fmt.Errorf("visitor session: %w", errMissingID)
	}
	return nil
}

type UpdateVisitorSession struct {
	SessionID string               `json:"sessionId"`
	Patch     visitor.SessionPatch `json:"patch"`
}

func (UpdateVisitorSession) JobType() Type { return TypeUpdateVisitorSession }
func (UpdateVisitorSession) Queue() string { return QueueDurable }
func (j UpdateVisitorSession) Validate() error {
	if j.SessionID == "" {
		return fmt.Errorf("visitor session update: %w", errMissingID)
	}
	return nil
}

type PersistAttribution struct {
	Attribution visitor.Attribution `json:"attribution"`
}

func (PersistAttribution) JobType() Type { return TypePersistAttribution }
func (PersistAttribution) Queue() string { return QueueDurable }
func (j PersistAttribution) Validate() error {
	if j.Attribution.ID == "" || j.Attribution.SessionID == "" {
		return fmt.Errorf("attribution: %w", errMissingID)
	}
	return nil
}

type PersistSecurityEvent struct {
	Event visitor.SecurityEvent `json:"event"`
}

func (PersistSecurityEvent) JobType() Type { return TypePersistSecurityEvent }
func (PersistSecurityEvent) Queue() string { return QueueDurable }
func (j PersistSecurityEvent) Validate() error {
	if j.Event.ID == "" || j.Event.SessionID == "" || j.Event.Type == "" {
		return fmt.Errorf("security event: %w", errMissingID)
	}
	return nil
}

type PersistInteraction struct {
	Interaction visitor.Interaction `json:"interaction"`
}

func (PersistInteraction) JobType() Type { return TypePersistInteraction }
func (PersistInteraction) Queue() string { return QueueDurable }
func (j PersistInteraction) Validate() error {
	if j.Interaction.ID == "" || j.Interaction.SessionID == "" {
		return fmt.Errorf("interaction: %w", errMissingID)
	}
	return j.Interaction.Validate()
}
