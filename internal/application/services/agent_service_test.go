package services_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/chat"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/jobs"
)

func TestPresenceRules(t *testing.T) {
	h := newHarness(t)

	_, err := h.agents.Status(h.ctx, "a1")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	st, err := h.agents.SetPresence(h.ctx, tenant, "a1", chat.PresenceOnline)
	require.NoError(t, err)
	require.Equal(t, h.cfg.Rooms.DefaultMaxChats, st.MaxConcurrentChats)

	_, err = h.agents.SetPresence(h.ctx, tenant, "a1", "AWAY")
	require.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = h.agents.SetCapacity(h.ctx, tenant, "a1", 0)
	require.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = h.agents.Acquire(h.ctx, "a1", "r1")
	require.NoError(t, err)
	_, err = h.agents.Acquire(h.ctx, "a1", "r2")
	require.NoError(t, err)

	_, err = h.agents.SetPresence(h.ctx, tenant, "a1", chat.PresenceOffline)
	require.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = h.agents.SetCapacity(h.ctx, tenant, "a1", 1)
	require.ErrorIs(t, err, apperrors.ErrValidation)

	st, err = h.agents.SetPresence(h.ctx, tenant, "a1", chat.PresenceOnline)
	require.NoError(t, err)
	require.Equal(t, chat.PresenceBusy, st.Status)

	_, err = h.agents.Release(h.ctx, "a1", "r1")
	require.NoError(t, err)
	st, err = h.agents.Release(h.ctx, "a1", "r2")
	require.NoError(t, err)
	require.Equal(t, 0, st.CurrentChats)
	require.Equal(t, chat.PresenceOnline, st.Status)

	st, err = h.agents.Release(h.ctx, "a1", "r2")
	require.NoError(t, err)
	require.Equal(t, 0, st.CurrentChats)

	_, err = h.agents.SetPresence(h.ctx, tenant, "a1", chat.PresenceOffline)
	require.NoError(t, err)
	_, err = h.agents.Acquire(h.ctx, "a1", "r3")
	require.ErrorIs(t, err, apperrors.ErrCapacityExceeded)

	h.pump()
	durable, err := h.durable.AgentStatus.FindByID(h.ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, chat.PresenceOffline, durable.Status)
	require.Equal(t, 0, durable.CurrentChats)
}

func TestAcquireFallsBackToDurableStore(t *testing.T) {
	h := newHarness(t)
	h.online("a1", 1)
	h.pump()

	require.NoError(t, h.store.Close())

	st, err := h.agents.Acquire(h.ctx, "a1", "r1")
	require.NoError(t, err)
	require.Equal(t, 1, st.CurrentChats)
	require.Equal(t, chat.PresenceBusy, st.Status)
	require.Empty(t, h.queue.OfType(jobs.TypeAgentCapacity))

	_, err = h.agents.Acquire(h.ctx, "a1", "r2")
	var capErr *apperrors.CapacityError
	require.ErrorAs(t, err, &capErr)
	require.Equal(t, 1, capErr.Current)

	st, err = h.agents.Release(h.ctx, "a1", "r1")
	require.NoError(t, err)
	require.Equal(t, 0, st.CurrentChats)
	require.Equal(t, chat.PresenceOnline, st.Status)

	durable, err := h.durable.AgentStatus.FindByID(h.ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, 0, durable.CurrentChats)

	_, err = h.agents.Acquire(h.ctx, "ghost", "r1")
	require.ErrorIs(t, err, apperrors.ErrCapacityExceeded)
}

func TestPresenceFallsBackToDurableStore(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Close())

	st, err := h.agents.SetCapacity(h.ctx, tenant, "a1", 2)
	require.NoError(t, err)
	require.Equal(t, 2, st.MaxConcurrentChats)

	durable, err := h.durable.AgentStatus.FindByID(h.ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, 2, durable.MaxConcurrentChats)
	require.Equal(t, chat.PresenceOffline, durable.Status)
	require.Empty(t, h.queue.All())
}

func TestAcquireRollsBackWhenQueueFails(t *testing.T) {
	h := newHarness(t)
	h.online("a1", 2)
	h.pump()

	h.queue.Fail(true)
	_, err := h.agents.Acquire(h.ctx, "a1", "r1")
	require.ErrorIs(t, err, apperrors.ErrInfrastructureUnavailable)
	h.queue.Fail(false)

	require.Equal(t, 0, h.status("a1").CurrentChats)
}
