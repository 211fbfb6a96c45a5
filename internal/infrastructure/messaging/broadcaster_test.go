package messaging

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
)

func TestPublishReachesRoomSubscribersOnly(t *testing.T) {
	b := NewRoomBroadcaster(logging.NewNopLogger())
	inRoom := b.Subscribe("t1", "r1", true)
	otherRoom := b.Subscribe("t1", "r2", true)
	otherTenant := b.Subscribe("t2", "r1", true)

	b.Publish("t1", "r1", Event{Type: EventMessage, Data: map[string]string{"body": "hi"}})

	frame := <-inRoom.C
	require.Equal(t, EventMessage, frame.Type)
	require.JSONEq(t, `{"body":"hi"}`, string(frame.Data))
	require.Equal(t, "event: message\ndata: {\"body\":\"hi\"}\n\n", frame.SSE())
	require.Empty(t, otherRoom.C)
	require.Empty(t, otherTenant.C)
}

func TestInternalEventsSkipVisitors(t *testing.T) {
	b := NewRoomBroadcaster(logging.NewNopLogger())
	agent := b.Subscribe("t1", "r1", true)
	visitor := b.Subscribe("t1", "r1", false)

	b.Publish("t1", "r1", Event{Type: EventMessage, Internal: true, Data: "note"})

	require.Len(t, agent.C, 1)
	require.Empty(t, visitor.C)
}

func TestFullBufferDropsEvents(t *testing.T) {
	b := NewRoomBroadcaster(logging.NewNopLogger())
	client := b.Subscribe("t1", "r1", false)

	for range clientBuffer + 5 {
		b.Publish("t1", "r1", Event{Type: EventTyping, Data: true})
	}
	require.Len(t, client.C, clientBuffer)
}

func TestUnsubscribeClosesAndForgets(t *testing.T) {
	b := NewRoomBroadcaster(logging.NewNopLogger())
	first := b.Subscribe("t1", "r1", true)
	second := b.Subscribe("t1", "r1", true)
	require.Equal(t, 2, b.ConnectionCount("t1", "r1"))

	b.Unsubscribe(first)
	_, open := <-first.C
	require.False(t, open)
	require.Equal(t, 1, b.ConnectionCount("t1", "r1"))

	b.Unsubscribe(second)
	require.Equal(t, 0, b.ConnectionCount("t1", "r1"))
	require.Empty(t, b.rooms)
}
