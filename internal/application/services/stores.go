// Package services orchestrates the room coordinator: room and participant
// transitions, agent capacity, messages, session history, analytics and the
// visitor session families. Every entity write goes through a cache-first
// repository; the durable store is settled by queued jobs.
package services

import (
	"errors"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/chat"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/visitor"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/jobs"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/repositories"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching/cachefirst"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/livedesk-go/pkg/config"
)

// Family and index names. They also name the cache keys.
const (
	FamilyRooms          = "room"
	FamilyParticipants   = "participant"
	FamilyMessages       = "message"
	FamilyHistory        = "history"
	FamilySessions       = "visitor_session"
	FamilyAttributions   = "attribution"
	FamilySecurityEvents = "security_event"
	FamilyInteractions   = "interaction"

	IndexByRoom           = "room"
	IndexByVisitorSession = "visitor_session"
	IndexBySession        = "session"
	IndexByToken          = "token"
)

// Durable bundles the durable-store repositories.
type Durable struct {
	Rooms          repositories.RoomRepository
	Participants   repositories.ParticipantRepository
	Messages       repositories.MessageRepository
	History        repositories.HistoryRepository
	AgentStatus    repositories.AgentStatusRepository
	Departments    repositories.DepartmentRepository
	Analytics      repositories.AnalyticsRepository
	Sessions       repositories.VisitorSessionRepository
	Attributions   repositories.AttributionRepository
	SecurityEvents repositories.SecurityEventRepository
	Interactions   repositories.InteractionRepository
	Engagement     repositories.EngagementRepository
}

// Stores holds one cache-first repository per cached entity family.
type Stores struct {
	Rooms          *cachefirst.Repository[chat.Room, chat.RoomPatch]
	Participants   *cachefirst.Repository[chat.Participant, chat.ParticipantPatch]
	Messages       *cachefirst.Repository[chat.Message, cachefirst.NoPatch[chat.Message]]
	History        *cachefirst.Repository[chat.HistoryEntry, chat.HistoryPatch]
	Sessions       *cachefirst.Repository[visitor.Session, visitor.SessionPatch]
	Attributions   *cachefirst.Repository[visitor.Attribution, cachefirst.NoPatch[visitor.Attribution]]
	SecurityEvents *cachefirst.Repository[visitor.SecurityEvent, cachefirst.NoPatch[visitor.SecurityEvent]]
	Interactions   *cachefirst.Repository[visitor.Interaction, cachefirst.NoPatch[visitor.Interaction]]
}

func isNotFound(err error) bool { return errors.Is(err, apperrors.ErrNotFound) }

// NewStores wires every family to its durable repository and jobs.
func NewStores(db Durable, cache *caching.Cache, queue jobs.Enqueuer, cfg *config.Config, logger *logging.ChanneledLogger) *Stores {
	delays := cachefirst.Delays{Persist: cfg.Queue.PersistDelay, Analytics: cfg.Queue.AnalyticsDelay}
	ttl := cfg.Cache.TTLFor

	return &Stores{
		Rooms: cachefirst.New(cachefirst.Family[chat.Room, chat.RoomPatch]{
			Name: FamilyRooms,
			TTL:  ttl(FamilyRooms),
			ID:   func(r chat.Room) string { return r.ID },
			Load: cachefirst.Deref(db.Rooms.FindByID),
			Indexes: []cachefirst.Index[chat.Room]{{
				Name:   IndexByVisitorSession,
				Values: func(r chat.Room) []string { return []string{r.VisitorSessionID} },
				Load:   cachefirst.DerefAll(db.Rooms.FindByVisitorSession),
			}},
			PersistJob: func(r chat.Room) jobs.Job { return jobs.PersistRoom{Room: r} },
			UpdateJob: func(id string, p chat.RoomPatch, r chat.Room) jobs.Job {
				return jobs.UpdateRoom{RoomID: id, TenantID: r.TenantID, Patch: p}
			},
			AnalyticsJob: func(r chat.Room) jobs.Job {
				return jobs.RoomOpened{RoomID: r.ID, TenantID: r.TenantID, At: r.CreatedAt}
			},
		}, cache, queue, delays, logger),

		Participants: cachefirst.New(cachefirst.Family[chat.Participant, chat.ParticipantPatch]{
			Name: FamilyParticipants,
			TTL:  ttl(FamilyParticipants),
			ID:   func(p chat.Participant) string { return p.ID },
			Load: cachefirst.Deref(db.Participants.FindByID),
			Indexes: []cachefirst.Index[chat.Participant]{{
				Name:   IndexByRoom,
				Values: func(p chat.Participant) []string { return []string{p.RoomID} },
				Load:   cachefirst.DerefAll(db.Participants.FindByRoom),
			}},
			PersistJob: func(p chat.Participant) jobs.Job { return jobs.PersistParticipant{Participant: p} },
			UpdateJob: func(id string, patch chat.ParticipantPatch, p chat.Participant) jobs.Job {
				return jobs.UpdateParticipant{ParticipantID: id, RoomID: p.RoomID, Patch: patch}
			},
			// Write only creates participants; rejoins enqueue their own join job
			AnalyticsJob: func(p chat.Participant) jobs.Job {
				return jobs.ParticipantJoined{
					RoomID:         p.RoomID,
					TenantID:       p.TenantID,
					ParticipantID:  p.ID,
					Role:           p.Role,
					NewParticipant: true,
					JoinedAt:       p.JoinedAt,
				}
			},
		}, cache, queue, delays, logger),

		Messages: cachefirst.New(cachefirst.Family[chat.Message, cachefirst.NoPatch[chat.Message]]{
			Name: FamilyMessages,
			TTL:  ttl(FamilyMessages),
			ID:   func(m chat.Message) string { return m.ID },
			Load: cachefirst.Deref(db.Messages.FindByID),
			Indexes: []cachefirst.Index[chat.Message]{{
				Name:   IndexByRoom,
				Values: func(m chat.Message) []string { return []string{m.RoomID} },
				Load:   cachefirst.DerefAll(db.Messages.FindByRoom),
			}},
			PersistJob: func(m chat.Message) jobs.Job { return jobs.PersistMessage{Message: m} },
			AnalyticsJob: func(m chat.Message) jobs.Job {
				return jobs.MessageRecorded{
					RoomID:     m.RoomID,
					TenantID:   m.TenantID,
					MessageID:  m.ID,
					SenderKind: m.SenderKind,
					Internal:   m.Internal,
					CreatedAt:  m.CreatedAt,
				}
			},
		}, cache, queue, delays, logger),

		History: cachefirst.New(cachefirst.Family[chat.HistoryEntry, chat.HistoryPatch]{
			Name: FamilyHistory,
			TTL:  ttl(FamilyHistory),
			ID:   func(h chat.HistoryEntry) string { return h.ID },
			Load: cachefirst.Deref(db.History.FindByID),
			Indexes: []cachefirst.Index[chat.HistoryEntry]{{
				Name:   IndexByRoom,
				Values: func(h chat.HistoryEntry) []string { return []string{h.RoomID} },
				Load:   cachefirst.DerefAll(db.History.FindByRoom),
			}},
			PersistJob: func(h chat.HistoryEntry) jobs.Job { return jobs.PersistHistory{Entry: h} },
			UpdateJob: func(id string, p chat.HistoryPatch, h chat.HistoryEntry) jobs.Job {
				return jobs.UpdateHistory{EntryID: id, RoomID: h.RoomID, Patch: p}
			},
		}, cache, queue, delays, logger),

		Sessions: cachefirst.New(cachefirst.Family[visitor.Session, visitor.SessionPatch]{
			Name: FamilySessions,
			TTL:  ttl(FamilySessions),
			ID:   func(s visitor.Session) string { return s.ID },
			Load: cachefirst.Deref(db.Sessions.FindByID),
			Indexes: []cachefirst.Index[visitor.Session]{{
				Name:   IndexByToken,
				Values: func(s visitor.Session) []string { return []string{s.Token} },
				Load:   cachefirst.Single(db.Sessions.FindByToken, isNotFound),
			}},
			PersistJob: func(s visitor.Session) jobs.Job { return jobs.PersistVisitorSession{Session: s} },
			UpdateJob: func(id string, p visitor.SessionPatch, _ visitor.Session) jobs.Job {
				return jobs.UpdateVisitorSession{SessionID: id, Patch: p}
			},
		}, cache, queue, delays, logger),

		Attributions: cachefirst.New(cachefirst.Family[visitor.Attribution, cachefirst.NoPatch[visitor.Attribution]]{
			Name: FamilyAttributions,
			TTL:  ttl(FamilyAttributions),
			ID:   func(a visitor.Attribution) string { return a.ID },
			Load: cachefirst.Deref(db.Attributions.FindByID),
			Indexes: []cachefirst.Index[visitor.Attribution]{{
				Name:   IndexBySession,
				Values: func(a visitor.Attribution) []string { return []string{a.SessionID} },
				Load:   cachefirst.DerefAll(db.Attributions.FindBySession),
			}},
			PersistJob: func(a visitor.Attribution) jobs.Job { return jobs.PersistAttribution{Attribution: a} },
		}, cache, queue, delays, logger),

		SecurityEvents: cachefirst.New(cachefirst.Family[visitor.SecurityEvent, cachefirst.NoPatch[visitor.SecurityEvent]]{
			Name: FamilySecurityEvents,
			TTL:  ttl(FamilySecurityEvents),
			ID:   func(e visitor.SecurityEvent) string { return e.ID },
			Load: cachefirst.Deref(db.SecurityEvents.FindByID),
			Indexes: []cachefirst.Index[visitor.SecurityEvent]{{
				Name:   IndexBySession,
				Values: func(e visitor.SecurityEvent) []string { return []string{e.SessionID} },
				Load:   cachefirst.DerefAll(db.SecurityEvents.FindBySession),
			}},
			PersistJob: func(e visitor.SecurityEvent) jobs.Job { return jobs.PersistSecurityEvent{Event: e} },
		}, cache, queue, delays, logger),

		Interactions: cachefirst.New(cachefirst.Family[visitor.Interaction, cachefirst.NoPatch[visitor.Interaction]]{
			Name: FamilyInteractions,
			TTL:  ttl(FamilyInteractions),
			ID:   func(i visitor.Interaction) string { return i.ID },
			Load: cachefirst.Deref(db.Interactions.FindByID),
			Indexes: []cachefirst.Index[visitor.Interaction]{{
				Name:   IndexBySession,
				Values: func(i visitor.Interaction) []string { return []string{i.SessionID} },
				Load:   cachefirst.DerefAll(db.Interactions.FindBySession),
			}},
			PersistJob: func(i visitor.Interaction) jobs.Job { return jobs.PersistInteraction{Interaction: i} },
			AnalyticsJob: func(i visitor.Interaction) jobs.Job {
				return jobs.RecomputeEngagement{SessionID: i.SessionID, TenantID: i.TenantID}
			},
		}, cache, queue, delays, logger),
	}
}
