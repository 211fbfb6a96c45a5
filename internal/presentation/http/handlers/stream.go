package handlers

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	streamHeartbeat = 10 * time.Second
	wsWriteWait     = 10 * time.Second
	wsPongWait      = 3 * streamHeartbeat
)

// Origins are already filtered by the CORS middleware.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// stream holds an SSE connection open on a room until the client goes away.
// Where the writer cannot lift the server write timeout the stream ends at
// that deadline and the EventSource client reconnects.
func (b base) stream(c *gin.Context, tenantID, roomID string, agent bool) {
	if b.events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "room streams unavailable"})
		return
	}
	if err := http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{}); err != nil {
		b.logger.HTTP().Debug().Err(err).Str("roomId", roomID).Msg("Room stream bound by server write timeout")
	}
	client := b.events.Subscribe(tenantID, roomID, agent)
	defer b.events.Unsubscribe(client)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(c.Writer, "event: connected\ndata: {\"roomId\":%q,\"connectionCount\":%d}\n\n",
		roomID, b.events.ConnectionCount(tenantID, roomID))
	c.Writer.Flush()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case frame, ok := <-client.C:
			if !ok {
				return false
			}
			_, err := fmt.Fprint(w, frame.SSE())
			return err == nil
		case t := <-heartbeat.C:
			_, err := fmt.Fprintf(w, "event: heartbeat\ndata: {\"timestamp\":%d}\n\n", t.Unix())
			return err == nil
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// socket serves the same events over a websocket as JSON frames. Inbound
// messages other than control frames are ignored.
func (b base) socket(c *gin.Context, tenantID, roomID string, agent bool) {
	if b.events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "room streams unavailable"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		b.logger.HTTP().Debug().Err(err).Str("roomId", roomID).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	client := b.events.Subscribe(tenantID, roomID, agent)
	defer b.events.Unsubscribe(client)

	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamHeartbeat)
	defer ping.Stop()

	for {
		select {
		case frame, ok := <-client.C:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(frame); err != nil {
				b.logger.HTTP().Debug().Err(err).Str("roomId", roomID).Msg("Websocket write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

// Stream follows the agent's view of a room, internal notes included.
func (h *RoomHandlers) Stream(c *gin.Context) {
	claims, view, ok := h.authorize(c)
	if !ok {
		return
	}
	h.stream(c, claims.TenantID, view.Room.ID, true)
}

func (h *RoomHandlers) Socket(c *gin.Context) {
	claims, view, ok := h.authorize(c)
	if !ok {
		return
	}
	h.socket(c, claims.TenantID, view.Room.ID, true)
}

// Stream follows the visitor's view of a room.
func (h *VisitorHandlers) Stream(c *gin.Context) {
	s, view, ok := h.room(c)
	if !ok {
		return
	}
	h.stream(c, s.TenantID, view.Room.ID, false)
}

func (h *VisitorHandlers) Socket(c *gin.Context) {
	s, view, ok := h.room(c)
	if !ok {
		return
	}
	h.socket(c, s.TenantID, view.Room.ID, false)
}
