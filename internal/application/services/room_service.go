package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/chat"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/jobs"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/repositories"
	domain "github.com/AtRiskMedia/livedesk-go/internal/domain/services"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/clock"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/security"
	"github.com/AtRiskMedia/livedesk-go/pkg/config"
)

// RoomService runs the room and participant state machine. Every transition
// on an existing room holds that room's lock for its whole duration.
type RoomService struct {
	stores         *Stores
	agents         *AgentService
	history        *HistoryService
	typing         *TypingService
	notify         *NotificationService
	departments    repositories.DepartmentRepository
	locker         *caching.RoomLocker
	cache          *caching.Cache
	queue          jobs.Enqueuer
	clock          clock.Clock
	rooms          config.RoomConfig
	roomTTL        time.Duration
	analyticsDelay time.Duration
	logger         *logging.ChanneledLogger
}

func NewRoomService(
	stores *Stores,
	agents *AgentService,
	history *HistoryService,
	typing *TypingService,
	notify *NotificationService,
	departments repositories.DepartmentRepository,
	locker *caching.RoomLocker,
	cache *caching.Cache,
	queue jobs.Enqueuer,
	clk clock.Clock,
	cfg *config.Config,
	logger *logging.ChanneledLogger,
) *RoomService {
	return &RoomService{
		stores:         stores,
		agents:         agents,
		history:        history,
		typing:         typing,
		notify:         notify,
		departments:    departments,
		locker:         locker,
		cache:          cache,
		queue:          queue,
		clock:          clk,
		rooms:          cfg.Rooms,
		roomTTL:        cfg.Cache.TTLFor(FamilyRooms),
		analyticsDelay: cfg.Queue.AnalyticsDelay,
		logger:         logger,
	}
}

type OpenRoomInput struct {
	TenantID         string       `json:"tenantId"`
	VisitorSessionID string       `json:"visitorSessionId"`
	Profile          chat.Profile `json:"profile"`
	DepartmentID     string       `json:"departmentId,omitempty"`
}

// RoomView is a room together with its participants and derived state.
type RoomView struct {
	Room         chat.Room          `json:"room"`
	State        chat.RoomState     `json:"state"`
	Participants []chat.Participant `json:"participants"`
}

// OpenRoom creates a room for a visitor session along with the visitor
// participant and its joined history row. The analytics row follows from
// the room's analytics job.
func (s *RoomService) OpenRoom(ctx context.Context, in OpenRoomInput) (RoomView, error) {
	if in.TenantID == "" || in.VisitorSessionID == "" {
		return RoomView{}, apperrors.Validation("tenant and visitor session are required")
	}
	session, err := s.stores.Sessions.Read(ctx, in.VisitorSessionID)
	if err != nil {
		return RoomView{}, fmt.Errorf("failed to load visitor session: %w", err)
	}
	if session.TenantID != in.TenantID {
		return RoomView{}, apperrors.NotFound(FamilySessions, in.VisitorSessionID)
	}
	if session.EndedAt != nil {
		return RoomView{}, apperrors.Validation("visitor session %s has ended", session.ID)
	}

	at := s.clock.Now()
	room := chat.Room{
		ID:               security.GenerateULID(),
		TenantID:         in.TenantID,
		VisitorSessionID: session.ID,
		VisitorID:        session.VisitorID,
		CreatedAt:        at,
		LastActivityAt:   at,
		UpdatedAt:        at,
	}
	if in.DepartmentID != "" {
		dept, err := s.department(ctx, in.TenantID, in.DepartmentID)
		if err != nil {
			return RoomView{}, err
		}
		room.DepartmentID = &dept.ID
	}

	if err := s.stores.Rooms.Write(ctx, room); err != nil {
		return RoomView{}, fmt.Errorf("failed to open room: %w", err)
	}
	visitor := *chat.NewParticipant(in.TenantID, room.ID, chat.VisitorMember{VisitorID: session.VisitorID}, in.Profile, at)
	if err := s.stores.Participants.Write(ctx, visitor); err != nil {
		return RoomView{}, fmt.Errorf("failed to add visitor to room: %w", err)
	}
	if _, err := s.history.Joined(ctx, visitor, chat.ReasonVisitorStarted, at); err != nil {
		return RoomView{}, fmt.Errorf("failed to record visitor join: %w", err)
	}

	s.logger.Room().Info().Str("tenantId", room.TenantID).Str("roomId", room.ID).Str("sessionId", session.ID).Msg("Room opened")
	return s.view(room, []chat.Participant{visitor}), nil
}

// GetRoom returns the room view, cache first.
func (s *RoomService) GetRoom(ctx context.Context, roomID string) (RoomView, error) {
	room, ps, err := s.load(ctx, roomID)
	if err != nil {
		return RoomView{}, err
	}
	return s.view(room, ps), nil
}

// RoomsForSession lists the rooms opened from one visitor session.
func (s *RoomService) RoomsForSession(ctx context.Context, sessionID string) ([]chat.Room, error) {
	rooms, err := s.stores.Rooms.ReadByIndex(ctx, IndexByVisitorSession, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms for session %s: %w", sessionID, err)
	}
	slices.SortFunc(rooms, func(a, b chat.Room) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return rooms, nil
}

// PrimaryAgent returns the room's primary agent, reading the primary pointer first.
func (s *RoomService) PrimaryAgent(ctx context.Context, roomID string) (string, bool, error) {
	if id, status := s.cache.GetString(ctx, caching.PrimaryPointerKey(roomID)); status == caching.Hit {
		return id, true, nil
	}
	room, err := s.stores.Rooms.Read(ctx, roomID)
	if err != nil {
		return "", false, err
	}
	if room.PrimaryAgentID == nil {
		return "", false, nil
	}
	s.cache.SetString(ctx, caching.PrimaryPointerKey(roomID), *room.PrimaryAgentID, s.roomTTL)
	return *room.PrimaryAgentID, true, nil
}

// JoinAgent admits an agent into the room. The first active agent becomes primary.
func (s *RoomService) JoinAgent(ctx context.Context, roomID, agentID string, profile chat.Profile) (RoomView, error) {
	var view RoomView
	err := s.locker.WithRoom(ctx, roomID, func(ctx context.Context) error {
		var err error
		view, err = s.join(ctx, roomID, agentID, profile, chat.ReasonAgentAssignment)
		return err
	})
	return view, err
}

// LeaveAgent takes an agent out of the room, failing the primary role over
// to the longest-present remaining agent.
func (s *RoomService) LeaveAgent(ctx context.Context, roomID, agentID string) (RoomView, error) {
	var view RoomView
	err := s.locker.WithRoom(ctx, roomID, func(ctx context.Context) error {
		room, ps, err := s.activeRoom(ctx, roomID)
		if err != nil {
			return err
		}
		p, ok := findParticipant(ps, chat.ParticipantID(roomID, chat.AgentMember{AgentID: agentID}))
		if !ok || !p.IsActive() {
			return apperrors.Validation("agent %s is not active in room %s", agentID, roomID)
		}

		at := s.clock.Now()
		if p, err = s.offline(ctx, p, at); err != nil {
			return err
		}
		ps = replaceParticipant(ps, p)

		reason := chat.ReasonAgentLeft
		if room.IsPrimary(agentID) {
			reason = chat.ReasonPrimaryAgentRemoved
			if room, err = s.failover(ctx, room, ps, at); err != nil {
				return err
			}
		}
		if _, err := s.history.Left(ctx, p, reason, at); err != nil {
			return fmt.Errorf("failed to record agent leave: %w", err)
		}

		s.logger.Room().Info().Str("roomId", roomID).Str("agentId", agentID).Str("reason", string(reason)).Msg("Agent left room")
		view = s.view(room, ps)
		return nil
	})
	return view, err
}

// LeaveVisitor marks the visitor participant offline.
func (s *RoomService) LeaveVisitor(ctx context.Context, roomID string) (RoomView, error) {
	var view RoomView
	err := s.locker.WithRoom(ctx, roomID, func(ctx context.Context) error {
		room, ps, err := s.activeRoom(ctx, roomID)
		if err != nil {
			return err
		}
		p, ok := findParticipant(ps, chat.ParticipantID(roomID, chat.VisitorMember{VisitorID: room.VisitorID}))
		if !ok || !p.IsActive() {
			return apperrors.Validation("visitor is not active in room %s", roomID)
		}
		at := s.clock.Now()
		if p, err = s.offline(ctx, p, at); err != nil {
			return err
		}
		if _, err := s.history.Left(ctx, p, chat.ReasonVisitorLeft, at); err != nil {
			return fmt.Errorf("failed to record visitor leave: %w", err)
		}
		s.logger.Room().Info().Str("roomId", roomID).Msg("Visitor left room")
		view = s.view(room, replaceParticipant(ps, p))
		return nil
	})
	return view, err
}

// EndRoom offlines every active participant, releases agent capacity, closes
// history and freezes the room. Analytics are finalized by the RoomEnded job.
func (s *RoomService) EndRoom(ctx context.Context, roomID string) (RoomView, error) {
	var view RoomView
	err := s.locker.WithRoom(ctx, roomID, func(ctx context.Context) error {
		room, ps, err := s.activeRoom(ctx, roomID)
		if err != nil {
			return err
		}
		at := s.clock.Now()
		for i, p := range ps {
			if !p.IsActive() {
				continue
			}
			if ps[i], err = s.offline(ctx, p, at); err != nil {
				return err
			}
			if _, err := s.history.Left(ctx, ps[i], chat.ReasonRoomEnded, at); err != nil {
				return fmt.Errorf("failed to close history for %s: %w", p.ID, err)
			}
		}

		room, err = s.stores.Rooms.Update(ctx, roomID, chat.RoomPatch{EndedAt: &at, ClearPrimaryAgent: true, At: at})
		if err != nil {
			return fmt.Errorf("failed to end room: %w", err)
		}
		s.cache.Delete(ctx, caching.PrimaryPointerKey(roomID), caching.TransferKey(roomID))
		s.typing.clearRoom(ctx, roomID)
		s.enqueueAnalytics(ctx, jobs.RoomEnded{RoomID: roomID, TenantID: room.TenantID, CreatedAt: room.CreatedAt, EndedAt: at})

		if v, ok := findParticipant(ps, chat.ParticipantID(roomID, chat.VisitorMember{VisitorID: room.VisitorID})); ok {
			s.notify.Notify(ctx, jobs.SendNotification{
				TenantID: room.TenantID,
				Kind:     jobs.NotifyRoomEnded,
				RoomID:   roomID,
				To:       v.Profile.Email,
				Subject:  "Your chat has ended",
				Text:     "Thanks for reaching out. This conversation is now closed.\n\nReply to start a new chat any time.",
			})
		}

		s.logger.Room().Info().Str("roomId", roomID).Dur("duration", at.Sub(room.CreatedAt)).Msg("Room ended")
		view = s.view(room, ps)
		return nil
	})
	return view, err
}

// join runs the admission path with the room lock held.
func (s *RoomService) join(ctx context.Context, roomID, agentID string, profile chat.Profile, reason chat.HistoryReason) (RoomView, error) {
	room, ps, err := s.activeRoom(ctx, roomID)
	if err != nil {
		return RoomView{}, err
	}
	member := chat.AgentMember{AgentID: agentID}
	existing, found := findParticipant(ps, chat.ParticipantID(roomID, member))
	if found && existing.IsActive() {
		return RoomView{}, apperrors.Validation("agent %s is already in room %s", agentID, roomID)
	}
	needsPrimary := room.PrimaryAgentID == nil || !hasActiveAgent(ps, *room.PrimaryAgentID)

	if err := s.admit(ctx, agentID); err != nil {
		return RoomView{}, err
	}
	if _, err := s.agents.Acquire(ctx, agentID, roomID); err != nil {
		s.logRejection(roomID, agentID, err)
		return RoomView{}, err
	}

	at := s.clock.Now()
	p, err := s.activate(ctx, room, member, existing, found, profile, at)
	if err != nil {
		s.releaseAfterFailure(ctx, agentID, roomID)
		return RoomView{}, fmt.Errorf("failed to add agent to room: %w", err)
	}
	ps = replaceParticipant(ps, p)

	if needsPrimary {
		if room, err = s.setPrimary(ctx, roomID, &agentID, at); err != nil {
			return RoomView{}, err
		}
	}
	if _, err := s.history.Joined(ctx, p, reason, at); err != nil {
		return RoomView{}, fmt.Errorf("failed to record agent join: %w", err)
	}

	s.logger.Room().Info().Str("roomId", roomID).Str("agentId", agentID).Bool("primary", needsPrimary).Bool("rejoin", found).Str("reason", string(reason)).Msg("Agent joined room")
	return s.view(room, ps), nil
}

// admit consults the admission gate with the status read at transition time.
func (s *RoomService) admit(ctx context.Context, agentID string) error {
	st, err := s.agents.Status(ctx, agentID)
	if errors.Is(err, apperrors.ErrNotFound) {
		st = chat.AgentStatus{UserID: agentID, Status: chat.PresenceOffline}
	} else if err != nil {
		return err
	}
	if err := domain.Admit(st); err != nil {
		s.logger.Room().Info().Err(err).Str("agentId", agentID).Msg("Agent admission rejected")
		return err
	}
	return nil
}

func (s *RoomService) logRejection(roomID, agentID string, err error) {
	if errors.Is(err, apperrors.ErrCapacityExceeded) {
		s.logger.Room().Info().Err(err).Str("roomId", roomID).Str("agentId", agentID).Msg("Agent admission rejected")
	}
}

// activate creates the participant row or reactivates the existing one. A
// rejoin enqueues its own join analytics since no new row is written.
func (s *RoomService) activate(ctx context.Context, room chat.Room, m chat.Member, existing chat.Participant, found bool, profile chat.Profile, at time.Time) (chat.Participant, error) {
	if !found {
		p := *chat.NewParticipant(room.TenantID, room.ID, m, profile, at)
		return p, s.stores.Participants.Write(ctx, p)
	}
	p, err := s.stores.Participants.Update(ctx, existing.ID, chat.Rejoin(at, profile))
	if err != nil {
		return p, err
	}
	s.enqueueAnalytics(ctx, jobs.ParticipantJoined{
		RoomID:        room.ID,
		TenantID:      room.TenantID,
		ParticipantID: p.ID,
		Role:          p.Role,
		JoinedAt:      at,
	})
	return p, nil
}

// offline marks p as left and gives back an agent's capacity slot.
func (s *RoomService) offline(ctx context.Context, p chat.Participant, at time.Time) (chat.Participant, error) {
	updated, err := s.stores.Participants.Update(ctx, p.ID, chat.Offline(at))
	if err != nil {
		return p, fmt.Errorf("failed to mark participant %s offline: %w", p.ID, err)
	}
	s.typing.clear(ctx, p.RoomID, p.ID)
	if p.Role == chat.RoleAgent {
		if _, err := s.agents.Release(ctx, p.UserID, p.RoomID); err != nil {
			return updated, fmt.Errorf("failed to release capacity for %s: %w", p.UserID, err)
		}
	}
	return updated, nil
}

// failover hands the primary role to the longest-present active agent, or clears it.
func (s *RoomService) failover(ctx context.Context, room chat.Room, ps []chat.Participant, at time.Time) (chat.Room, error) {
	remaining := activeAgents(ps)
	if len(remaining) == 0 {
		return s.setPrimary(ctx, room.ID, nil, at)
	}
	next := remaining[0].UserID
	s.logger.Room().Info().Str("roomId", room.ID).Str("from", deref(room.PrimaryAgentID)).Str("to", next).Msg("Primary agent failed over")
	return s.setPrimary(ctx, room.ID, &next, at)
}

// setPrimary updates the room and the primary pointer. A nil agent clears both.
func (s *RoomService) setPrimary(ctx context.Context, roomID string, agentID *string, at time.Time) (chat.Room, error) {
	patch := chat.RoomPatch{At: at}
	if agentID == nil {
		patch.ClearPrimaryAgent = true
	} else {
		patch.PrimaryAgentID = agentID
	}
	room, err := s.stores.Rooms.Update(ctx, roomID, patch)
	if err != nil {
		return room, fmt.Errorf("failed to update primary agent: %w", err)
	}
	if agentID == nil {
		s.cache.Delete(ctx, caching.PrimaryPointerKey(roomID))
	} else {
		s.cache.SetString(ctx, caching.PrimaryPointerKey(roomID), *agentID, s.roomTTL)
	}
	return room, nil
}

func (s *RoomService) releaseAfterFailure(ctx context.Context, agentID, roomID string) {
	if _, err := s.agents.Release(ctx, agentID, roomID); err != nil {
		s.logger.Room().Error().Err(err).Str("agentId", agentID).Str("roomId", roomID).Msg("Failed to release capacity after aborted join")
	}
}

func (s *RoomService) enqueueAnalytics(ctx context.Context, job jobs.Job) {
	if _, err := s.queue.Enqueue(ctx, job, jobs.WithDelay(s.analyticsDelay)); err != nil {
		s.logger.Analytics().Warn().Err(err).Str("jobType", string(job.JobType())).Msg("Analytics enqueue failed")
	}
}

func (s *RoomService) load(ctx context.Context, roomID string) (chat.Room, []chat.Participant, error) {
	room, err := s.stores.Rooms.Read(ctx, roomID)
	if err != nil {
		return room, nil, err
	}
	ps, err := s.stores.Participants.ReadByIndex(ctx, IndexByRoom, roomID)
	if err != nil {
		return room, nil, fmt.Errorf("failed to load participants: %w", err)
	}
	return room, ps, nil
}

// activeRoom loads the room and rejects transitions on an ended one.
func (s *RoomService) activeRoom(ctx context.Context, roomID string) (chat.Room, []chat.Participant, error) {
	room, ps, err := s.load(ctx, roomID)
	if err != nil {
		return room, nil, err
	}
	if room.IsEnded() {
		return room, nil, apperrors.Validation("room %s has ended", roomID)
	}
	return room, ps, nil
}

func (s *RoomService) department(ctx context.Context, tenantID, deptID string) (*chat.Department, error) {
	d, err := s.departments.FindByID(ctx, deptID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, apperrors.Unavailable("read department", err)
	}
	if d.TenantID != tenantID {
		return nil, apperrors.NotFound("department", deptID)
	}
	return d, nil
}

func (s *RoomService) view(room chat.Room, ps []chat.Participant) RoomView {
	sortParticipants(ps)
	return RoomView{Room: room, State: chat.DeriveState(&room, len(activeAgents(ps))), Participants: ps}
}

// ====== participant helpers ======

func findParticipant(ps []chat.Participant, id string) (chat.Participant, bool) {
	for _, p := range ps {
		if p.ID == id {
			return p, true
		}
	}
	return chat.Participant{}, false
}

func replaceParticipant(ps []chat.Participant, p chat.Participant) []chat.Participant {
	for i := range ps {
		if ps[i].ID == p.ID {
			ps[i] = p
			return ps
		}
	}
	return append(ps, p)
}

// activeAgents returns the active agents, longest present first.
func activeAgents(ps []chat.Participant) []chat.Participant {
	var out []chat.Participant
	for _, p := range ps {
		if p.IsActiveAgent() {
			out = append(out, p)
		}
	}
	sortParticipants(out)
	return out
}

func hasActiveAgent(ps []chat.Participant, agentID string) bool {
	return slices.ContainsFunc(ps, func(p chat.Participant) bool { return p.IsActiveAgent() && p.UserID == agentID })
}

func sortParticipants(ps []chat.Participant) {
	slices.SortStableFunc(ps, func(a, b chat.Participant) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func sortHistory(hs []chat.HistoryEntry) {
	slices.SortStableFunc(hs, func(a, b chat.HistoryEntry) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
