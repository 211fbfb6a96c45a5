package workers

import (
	"context"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/chat"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/visitor"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/jobs"
	rt "github.com/AtRiskMedia/livedesk-go/internal/infrastructure/workers"
)

func (h *Handlers) persistRoom(ctx context.Context, d rt.Delivery) error {
	j, err := as[jobs.PersistRoom](d)
	if err != nil {
		return err
	}
	return h.durable.Rooms.Upsert(ctx, &j.Room)
}

func (h *Handlers) updateRoom(ctx context.Context, d rt.Delivery) error {
	j, err := as[jobs.UpdateRoom](d)
	if err != nil {
		return err
	}
	applied, err := h.durable.Rooms.ApplyPatch(ctx, j.RoomID, j.Patch)
	if err != nil || applied {
		return err
	}
	return reconcile(ctx,
		func(ctx context.Context) (chat.Room, bool) { return h.stores.Rooms.Snapshot(ctx, j.RoomID) },
		h.durable.Rooms.Upsert,
		func(ctx context.Context) error { _, err := h.durable.Rooms.FindByID(ctx, j.RoomID); return err },
	)
}

func (h *Handlers) persistParticipant(ctx context.Context, d rt.Delivery) error {
	j, err := as[jobs.PersistParticipant](d)
	if err != nil {
		return err
	}
	return h.durable.Participants.Upsert(ctx, &j.Participant)
}

func (h *Handlers) updateParticipant(ctx context.Context, d rt.Delivery) error {
	j, err := as[jobs.UpdateParticipant](d)
	if err != nil {
		return err
	}
	applied, err := h.durable.Participants.ApplyPatch(ctx, j.ParticipantID, j.Patch)
	if err != nil || applied {
		return err
	}
	return reconcile(ctx,
		func(ctx context.Context) (chat.Participant, bool) {
			return h.stores.Participants.Snapshot(ctx, j.ParticipantID)
		},
		h.durable.Participants.Upsert,
		func(ctx context.Context) error {
			_, err := h.durable.Participants.FindByID(ctx, j.ParticipantID)
			return err
		},
	)
}

func (h *Handlers) persistMessage(ctx context.Context, d rt.Delivery) error {
	j, err := as[jobs.PersistMessage](d)
	if err != nil {
		return err
	}
	return h.durable.Messages.Insert(ctx, &j.Message)
}

func (h *Handlers) persistHistory(ctx context.Context, d rt.Delivery) error {
	j, err := as[jobs.PersistHistory](d)
	if err != nil {
		return err
	}
	return h.durable.History.Insert(ctx, &j.Entry)
}

// updateHistory closes a joined row. A row that is already closed is done;
// one that is missing is still waiting on its insert.
func (h *Handlers) updateHistory(ctx context.Context, d rt.Delivery) error {
	j, err := as[jobs.UpdateHistory](d)
	if err != nil {
		return err
	}
	applied, err := h.durable.History.Close(ctx, j.EntryID, j.Patch)
	if err != nil || applied {
		return err
	}
	if _, err := h.durable.History.FindByID(ctx, j.EntryID); err != nil {
		if isNotFound(err) {
			return apperrors.Transient(err)
		}
		return err
	}
	return nil
}

func (h *Handlers) capacityDelta(ctx context.Context, d rt.Delivery) error {
	j, err := as[jobs.AgentCapacityDelta](d)
	if err != nil {
		return err
	}
	applied, err := h.durable.AgentStatus.ApplyCapacityDelta(ctx, d.Key, j)
	if err != nil {
		return err
	}
	if !applied {
		h.logger.Worker().Debug().Str("key", d.Key).Str("agentId", j.AgentID).Msg("Capacity delta already applied")
	}
	return nil
}

func (h *Handlers) upsertAgentStatus(ctx context.Context, d rt.Delivery) error {
	j, err := as[jobs.UpsertAgentStatus](d)
	if err != nil {
		return err
	}
	return h.durable.AgentStatus.Upsert(ctx, &j.Status)
}

func (h *Handlers) persistSession(ctx context.Context, d rt.Delivery) error {
	j, err := as[jobs.PersistVisitorSession](d)
	if err != nil {
		return err
	}
	return h.durable.Sessions.Upsert(ctx, &j.Session)
}

func (h *Handlers) updateSession(ctx context.Context, d rt.Delivery) error {
	j, err := as[jobs.UpdateVisitorSession](d)
	if err != nil {
		return err
	}
	applied, err := h.durable.Sessions.ApplyPatch(ctx, j.SessionID, j.Patch)
	if err != nil || applied {
		return err
	}
	return reconcile(ctx,
		func(ctx context.Context) (visitor.Session, bool) { return h.stores.Sessions.Snapshot(ctx, j.SessionID) },
		h.durable.Sessions.Upsert,
		func(ctx context.Context) error { _, err := h.durable.Sessions.FindByID(ctx, j.SessionID); return err },
	)
}

func (h *Handlers) persistAttribution(ctx context.Context, d rt.Delivery) error {
	j, err := as[jobs.PersistAttribution](d)
	if err != nil {
		return err
	}
	return h.durable.Attributions.Insert(ctx, &j.Attribution)
}

func (h *Handlers) persistSecurityEvent(ctx context.Context, d rt.Delivery) error {
	j, err := as[jobs.PersistSecurityEvent](d)
	if err != nil {
		return err
	}
	return h.durable.SecurityEvents.Insert(ctx, &j.Event)
}

func (h *Handlers) persistInteraction(ctx context.Context, d rt.Delivery) error {
	j, err := as[jobs.PersistInteraction](d)
	if err != nil {
		return err
	}
	return h.durable.Interactions.Insert(ctx, &j.Interaction)
}

// FailedLog is the part of the job log a message restore reads and clears.
type FailedLog interface {
	ListFailed(ctx context.Context, queues []string, limit int) ([]rt.Record, error)
	TakeFailed(ctx context.Context, queues []string, id string) (rt.Record, error)
}

type RestoreResult struct {
	Submitted int      `json:"submitted"`
	Inserted  int      `json:"inserted"`
	Skipped   []string `json:"skipped,omitempty"`
}

// RestoreFailedMessages writes every failed PersistMessage job to the message
// store in one batch and then clears those records from the failed log.
// Messages already stored are ignored, so an interrupted restore can be run
// again. Records that no longer decode stay in the log.
func (h *Handlers) RestoreFailedMessages(ctx context.Context, log FailedLog) (RestoreResult, error) {
	var res RestoreResult
	recs, err := log.ListFailed(ctx, []string{jobs.QueueDurable}, 0)
	if err != nil {
		return res, err
	}

	var (
		ids  []string
		msgs []*chat.Message
	)
	for _, rec := range recs {
		if jobs.Type(rec.Type) != jobs.TypePersistMessage {
			continue
		}
		job, err := jobs.Decode(jobs.TypePersistMessage, rec.Payload)
		if err != nil {
			h.logger.Worker().Warn().Err(err).Str("jobId", rec.ID).Msg("Failed message job does not decode; left in log")
			res.Skipped = append(res.Skipped, rec.ID)
			continue
		}
		m := job.(jobs.PersistMessage).Message
		msgs = append(msgs, &m)
		ids = append(ids, rec.ID)
	}
	if len(msgs) == 0 {
		return res, nil
	}

	res.Submitted = len(msgs)
	if res.Inserted, err = h.durable.Messages.InsertBatch(ctx, msgs); err != nil {
		return res, err
	}
	for _, id := range ids {
		if _, err := log.TakeFailed(ctx, []string{jobs.QueueDurable}, id); err != nil {
			return res, err
		}
	}
	h.logger.Worker().Info().Int("submitted", res.Submitted).Int("inserted", res.Inserted).Msg("Failed messages restored")
	return res, nil
}
