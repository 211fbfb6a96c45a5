package services_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/jobs"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching"
	rt "github.com/AtRiskMedia/livedesk-go/internal/infrastructure/workers"
)

func notice(to string) jobs.SendNotification {
	return jobs.SendNotification{
		TenantID: tenant,
		Kind:     jobs.NotifyRoomEnded,
		RoomID:   "r1",
		To:       to,
		Subject:  "Your chat transcript",
		Text:     "Thanks for chatting with us.",
	}
}

func (h *harness) charged() string {
	h.t.Helper()
	v, err := h.store.Get(h.ctx, caching.RateLimitKey("notify", tenant))
	require.NoError(h.t, err)
	return string(v)
}

func TestRedeliveredNotificationSendsOnce(t *testing.T) {
	h := newHarness(t)
	n := notice("visitor@example.com")
	d := rt.Delivery{ID: "n1", Queue: n.Queue(), Key: "n1", Job: n}

	require.NoError(t, h.handlers.Handle(h.ctx, d))
	require.NoError(t, h.handlers.Handle(h.ctx, d))

	require.Len(t, h.mail.To("visitor@example.com"), 1)
	require.Equal(t, "1", h.charged())

	other := rt.Delivery{ID: "n2", Queue: n.Queue(), Key: "n2", Job: n}
	require.NoError(t, h.handlers.Handle(h.ctx, other))
	require.Len(t, h.mail.To("visitor@example.com"), 2)
	require.Equal(t, "2", h.charged())
}

func TestFailedNotificationRetriesWithoutRecharging(t *testing.T) {
	h := newHarness(t)
	h.mail.failures = 1
	n := notice("visitor@example.com")
	d := rt.Delivery{ID: "n1", Queue: n.Queue(), Key: "n1", Job: n}

	require.Error(t, h.handlers.Handle(h.ctx, d))
	require.Empty(t, h.mail.To("visitor@example.com"))

	require.NoError(t, h.handlers.Handle(h.ctx, d))
	require.NoError(t, h.handlers.Handle(h.ctx, d))
	require.Len(t, h.mail.To("visitor@example.com"), 1)
	require.Equal(t, "1", h.charged())
}
