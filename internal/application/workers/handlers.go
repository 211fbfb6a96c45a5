// Package workers binds every job type to the code that settles it: durable
// writes for the cache-first families, analytics aggregation and outbound
// notifications.
package workers

import (
	"context"
	"errors"
	"fmt"

	"github.com/AtRiskMedia/livedesk-go/internal/application/services"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/jobs"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	rt "github.com/AtRiskMedia/livedesk-go/internal/infrastructure/workers"
)

// Registrar is satisfied by the worker runtime.
type Registrar interface {
	Handle(t jobs.Type, h rt.HandlerFunc)
}

type Handlers struct {
	durable   services.Durable
	stores    *services.Stores
	analytics *services.AnalyticsService
	notify    *services.NotificationService
	logger    *logging.ChanneledLogger
}

func NewHandlers(durable services.Durable, stores *services.Stores, analytics *services.AnalyticsService, notify *services.NotificationService, logger *logging.ChanneledLogger) *Handlers {
	return &Handlers{durable: durable, stores: stores, analytics: analytics, notify: notify, logger: logger}
}

// Register installs a handler for every job type.
func (h *Handlers) Register(r Registrar) {
	for t, fn := range h.table() {
		r.Handle(t, fn)
	}
}

// Handle dispatches one delivery directly. Tests and the replay CLI use it
// without a running router.
func (h *Handlers) Handle(ctx context.Context, d rt.Delivery) error {
	fn, ok := h.table()[d.Job.JobType()]
	if !ok {
		return apperrors.Permanent(fmt.Errorf("no handler for job type %q", d.Job.JobType()))
	}
	return fn(ctx, d)
}

func (h *Handlers) table() map[jobs.Type]rt.HandlerFunc {
	return map[jobs.Type]rt.HandlerFunc{
		jobs.TypePersistRoom:           h.persistRoom,
		jobs.TypeUpdateRoom:            h.updateRoom,
		jobs.TypePersistParticipant:    h.persistParticipant,
		jobs.TypeUpdateParticipant:     h.updateParticipant,
		jobs.TypePersistMessage:        h.persistMessage,
		jobs.TypePersistHistory:        h.persistHistory,
		jobs.TypeUpdateHistory:         h.updateHistory,
		jobs.TypeAgentCapacity:         h.capacityDelta,
		jobs.TypeUpsertAgentStatus:     h.upsertAgentStatus,
		jobs.TypePersistVisitorSession: h.persistSession,
		jobs.TypeUpdateVisitorSession:  h.updateSession,
		jobs.TypePersistAttribution:    h.persistAttribution,
		jobs.TypePersistSecurityEvent:  h.persistSecurityEvent,
		jobs.TypePersistInteraction:    h.persistInteraction,
		jobs.TypeRoomOpened:            h.roomOpened,
		jobs.TypeParticipantJoined:     h.participantJoined,
		jobs.TypeMessageRecorded:       h.messageRecorded,
		jobs.TypeRoomEnded:             h.roomEnded,
		jobs.TypeRecomputeEngagement:   h.recomputeEngagement,
		jobs.TypeSendNotification:      h.sendNotification,
	}
}

// as narrows a delivery to its variant. A mismatch means the registry and
// the table disagree, which no retry fixes.
func as[J jobs.Job](d rt.Delivery) (J, error) {
	j, ok := d.Job.(J)
	if !ok {
		var zero J
		return zero, apperrors.Permanent(fmt.Errorf("job %s: unexpected payload %T", d.ID, d.Job))
	}
	return j, nil
}

// reconcile settles a patch the durable store declined. The row is either
// newer than the patch, in which case the cached snapshot (if any) is pushed
// through the same last-write-wins upsert, or it does not exist yet because
// its persist job has not run, in which case the patch is retried.
func reconcile[T any](ctx context.Context, snapshot func(context.Context) (T, bool), upsert func(context.Context, *T) error, find func(context.Context) error) error {
	if v, ok := snapshot(ctx); ok {
		return upsert(ctx, &v)
	}
	if err := find(ctx); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.Transient(err)
		}
		return err
	}
	return nil
}
