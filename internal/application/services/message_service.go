package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/chat"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/clock"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/security"
)

const maxMessageRunes = 5000

type SendMessageInput struct {
	RoomID     string          `json:"roomId"`
	SenderKind chat.SenderKind `json:"senderKind"`
	SenderID   string          `json:"senderId"`
	Body       string          `json:"body"`
	Internal   bool            `json:"internal,omitempty"`
}

// MessageService appends chat messages. Counters and response times are
// derived by the MessageRecorded analytics job.
type MessageService struct {
	stores *Stores
	typing *TypingService
	locker *caching.RoomLocker
	clock  clock.Clock
	logger *logging.ChanneledLogger
}

func NewMessageService(stores *Stores, typing *TypingService, locker *caching.RoomLocker, clk clock.Clock, logger *logging.ChanneledLogger) *MessageService {
	return &MessageService{stores: stores, typing: typing, locker: locker, clock: clk, logger: logger}
}

// Send records a message from an active participant, or a system message,
// and bumps the room's last activity.
func (s *MessageService) Send(ctx context.Context, in SendMessageInput) (chat.Message, error) {
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return chat.Message{}, apperrors.Validation("message body is empty")
	}
	if utf8.RuneCountInString(body) > maxMessageRunes {
		return chat.Message{}, apperrors.Validation("message exceeds %d characters", maxMessageRunes)
	}

	var msg chat.Message
	err := s.locker.WithRoom(ctx, in.RoomID, func(ctx context.Context) error {
		room, err := s.stores.Rooms.Read(ctx, in.RoomID)
		if err != nil {
			return err
		}
		if room.IsEnded() {
			return apperrors.Validation("room %s has ended", in.RoomID)
		}

		participantID, err := s.sender(room, in)
		if err != nil {
			return err
		}
		if participantID != "" {
			p, err := s.stores.Participants.Read(ctx, participantID)
			if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
				return err
			}
			if err != nil || !p.IsActive() {
				return apperrors.Validation("%s %s is not active in room %s", in.SenderKind, in.SenderID, in.RoomID)
			}
		}

		at := s.clock.Now()
		msg = chat.Message{
			ID:         security.GenerateULID(),
			RoomID:     room.ID,
			TenantID:   room.TenantID,
			SenderKind: in.SenderKind,
			SenderID:   in.SenderID,
			Body:       body,
			Internal:   in.Internal,
			CreatedAt:  at,
		}
		if err := s.stores.Messages.Write(ctx, msg); err != nil {
			return fmt.Errorf("failed to record message: %w", err)
		}
		if _, err := s.stores.Rooms.Update(ctx, room.ID, chat.RoomPatch{LastActivityAt: &at, At: at}); err != nil {
			return fmt.Errorf("failed to update room activity: %w", err)
		}
		if participantID != "" {
			s.typing.clear(ctx, room.ID, participantID)
		}
		return nil
	})
	if err != nil {
		return chat.Message{}, err
	}
	s.logger.Room().Debug().Str("roomId", msg.RoomID).Str("messageId", msg.ID).Str("sender", string(msg.SenderKind)).Bool("internal", msg.Internal).Msg("Message recorded")
	return msg, nil
}

// List returns the room's messages oldest first. Internal notes are only
// included for agents.
func (s *MessageService) List(ctx context.Context, roomID string, includeInternal bool) ([]chat.Message, error) {
	if _, err := s.stores.Rooms.Read(ctx, roomID); err != nil {
		return nil, err
	}
	msgs, err := s.stores.Messages.ReadByIndex(ctx, IndexByRoom, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	if !includeInternal {
		msgs = slices.DeleteFunc(msgs, func(m chat.Message) bool { return m.Internal })
	}
	slices.SortStableFunc(msgs, func(a, b chat.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return msgs, nil
}

// sender resolves the participant id a message must come from. System
// messages have none.
func (s *MessageService) sender(room chat.Room, in SendMessageInput) (string, error) {
	switch in.SenderKind {
	case chat.SenderVisitor:
		if in.Internal {
			return "", apperrors.Validation("visitors cannot post internal notes")
		}
		return chat.ParticipantID(room.ID, chat.VisitorMember{VisitorID: in.SenderID}), nil
	case chat.SenderAgent:
		return chat.ParticipantID(room.ID, chat.AgentMember{AgentID: in.SenderID}), nil
	case chat.SenderSystem:
		return "", nil
	default:
		return "", apperrors.Validation("unknown sender kind %q", in.SenderKind)
	}
}
