package handlers

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/messaging"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
)

func streamServer(t *testing.T, agent bool) (*httptest.Server, *messaging.RoomBroadcaster) {
	t.Helper()
	logger := logging.NewNopLogger()
	events := messaging.NewRoomBroadcaster(logger)
	b := base{logger: logger, events: events}

	r := gin.New()
	r.GET("/events", func(c *gin.Context) { b.stream(c, "t1", "r1", agent) })
	r.GET("/ws", func(c *gin.Context) { b.socket(c, "t1", "r1", agent) })
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, events
}

func waitForSubscriber(t *testing.T, events *messaging.RoomBroadcaster) {
	t.Helper()
	require.Eventually(t, func() bool { return events.ConnectionCount("t1", "r1") == 1 }, 2*time.Second, 10*time.Millisecond)
}

// nextEvent reads one SSE block and returns its event name and data.
func nextEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var name, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if name != "" {
				return name, data
			}
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestSSEStreamDeliversRoomEvents(t *testing.T) {
	srv, events := streamServer(t, false)

	resp, err := http.Get(srv.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	name, _ := nextEvent(t, reader)
	require.Equal(t, "connected", name)

	events.Publish("t1", "r1", messaging.Event{Type: messaging.EventMessage, Internal: true, Data: "note"})
	events.Publish("t1", "r1", messaging.Event{Type: messaging.EventMessage, Data: map[string]string{"body": "hello"}})

	name, data := nextEvent(t, reader)
	require.Equal(t, messaging.EventMessage, name)
	require.JSONEq(t, `{"body":"hello"}`, data)
}

func TestWebsocketDeliversRoomEvents(t *testing.T) {
	srv, events := streamServer(t, true)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	waitForSubscriber(t, events)

	events.Publish("t1", "r1", messaging.Event{Type: messaging.EventTyping, Internal: true, Data: map[string]bool{"isTyping": true}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame messaging.Frame
	require.NoError(t, json.Unmarshal(raw, &frame))
	require.Equal(t, messaging.EventTyping, frame.Type)
	require.JSONEq(t, `{"isTyping":true}`, string(frame.Data))

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return events.ConnectionCount("t1", "r1") == 0 }, 2*time.Second, 10*time.Millisecond)
}
