package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
)

// Encode serializes a job payload.
func Encode(job Job) ([]byte, error) {
	if err := job.Validate(); err != nil {
		return nil, apperrors.Validation("%s: %v", job.JobType(), err)
	}
	return json.Marshal(job)
}

// Decode turns a tagged payload back into its variant and validates it.
// Unknown tags and invalid payloads are permanent failures.
func Decode(t Type, payload []byte) (Job, error) {
	job, err := newVariant(t)
	if err != nil {
		return nil, apperrors.Permanent(err)
	}
	if err := json.Unmarshal(payload, job); err != nil {
		return nil, apperrors.Permanent(fmt.Errorf("decode %s: %w", t, err))
	}
	decoded := deref(job)
	if err := decoded.Validate(); err != nil {
		return nil, apperrors.Permanent(fmt.Errorf("validate %s: %w", t, err))
	}
	return decoded, nil
}

func newVariant(t Type) (any, error) {
	switch t {
	case TypePersistRoom:
		return &PersistRoom{}, nil
	case TypeUpdateRoom:
		return &UpdateRoom{}, nil
	case TypePersistParticipant:
		return &PersistParticipant{}, nil
	case TypeUpdateParticipant:
		return &UpdateParticipant{}, nil
	case TypePersistMessage:
		return &PersistMessage{}, nil
	case TypePersistHistory:
		return &PersistHistory{}, nil
	case TypeUpdateHistory:
		return &UpdateHistory{}, nil
	case TypeAgentCapacity:
		return &AgentCapacityDelta{}, nil
	case TypeUpsertAgentStatus:
		return &UpsertAgentStatus{}, nil
	case TypePersistVisitorSession:
		return &PersistVisitorSession{}, nil
	case TypeUpdateVisitorSession:
		return &UpdateVisitorSession{}, nil
	case TypePersistAttribution:
		return &PersistAttribution{}, nil
	case TypePersistSecurityEvent:
		return &PersistSecurityEvent{}, nil
	case TypePersistInteraction:
		return &PersistInteraction{}, nil
	case TypeRoomOpened:
		return &RoomOpened{}, nil
	case TypeParticipantJoined:
		return &ParticipantJoined{}, nil
	case TypeMessageRecorded:
		return &MessageRecorded{}, nil
	case TypeRoomEnded:
		return &RoomEnded{}, nil
	case TypeRecomputeEngagement:
		return &RecomputeEngagement{}, nil
	case TypeSendNotification:
		return &SendNotification{}, nil
	default:
		return nil, fmt.Errorf("unknown job type %q", t)
	}
}

// deref returns the value form so handlers switch on value types.
func deref(v any) Job {
	switch j := v.(type) {
	case *PersistRoom:
		return *j
	case *UpdateRoom:
		return *j
	case *PersistParticipant:
		return *j
	case *UpdateParticipant:
		return *j
	case *PersistMessage:
		return *j
	case *PersistHistory:
		return *j
	case *UpdateHistory:
		return *j
	case *AgentCapacityDelta:
		return *j
	case *UpsertAgentStatus:
		return *j
	case *PersistVisitorSession:
		return *j
	case *UpdateVisitorSession:
		return *j
	case *PersistAttribution:
		return *j
	case *PersistSecurityEvent:
		return *j
	case *PersistInteraction:
		return *j
	case *RoomOpened:
		return *j
	case *ParticipantJoined:
		return *j
	case *MessageRecorded:
		return *j
	case *RoomEnded:
		return *j
	case *RecomputeEngagement:
		return *j
	case *SendNotification:
		return *j
	}
	panic(fmt.Sprintf("jobs: unhandled variant %T", v))
}
