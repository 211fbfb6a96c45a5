package workers

import (
	"context"
	"errors"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/jobs"
	rt "github.com/AtRiskMedia/livedesk-go/internal/infrastructure/workers"
)

func isNotFound(err error) bool { return errors.Is(err, apperrors.ErrNotFound) }

func (h *Handlers) roomOpened(ctx context.Context, d rt.Delivery) error {
	j, err := as[jobs.RoomOpened](d)
	if err != nil {
		return err
	}
	return h.analytics.ApplyRoomOpened(ctx, d.Key, j)
}

func (h *Handlers) participantJoined(ctx context.Context, d rt.Delivery) error {
	j, err := as[jobs.ParticipantJoined](d)
	if err != nil {
		return err
	}
	return h.analytics.ApplyJoin(ctx, d.Key, j)
}

func (h *Handlers) messageRecorded(ctx context.Context, d rt.Delivery) error {
	j, err := as[jobs.MessageRecorded](d)
	if err != nil {
		return err
	}
	return h.analytics.ApplyMessage(ctx, d.Key, j)
}

func (h *Handlers) roomEnded(ctx context.Context, d rt.Delivery) error {
	j, err := as[jobs.RoomEnded](d)
	if err != nil {
		return err
	}
	return h.analytics.ApplyRoomEnded(ctx, d.Key, j)
}

func (h *Handlers) recomputeEngagement(ctx context.Context, d rt.Delivery) error {
	j, err := as[jobs.RecomputeEngagement](d)
	if err != nil {
		return err
	}
	return h.analytics.RecomputeEngagement(ctx, j)
}

func (h *Handlers) sendNotification(ctx context.Context, d rt.Delivery) error {
	j, err := as[jobs.SendNotification](d)
	if err != nil {
		return err
	}
	return h.notify.Deliver(ctx, d.Key, j)
}
