// Package messaging fans room events out to stream subscribers (SSE and websocket).
package messaging

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
)

const clientBuffer = 16

// Event types published to room subscribers.
const (
	EventMessage = "message"
	EventTyping  = "typing"
	EventRoom    = "room"
)

// Event is one room update. Internal events only reach agent subscribers.
type Event struct {
	Type     string
	Internal bool
	Data     any
}

// Frame is an encoded event as delivered to one client.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// SSE renders the frame as a server-sent event.
func (f Frame) SSE() string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", f.Type, f.Data)
}

// Client is one open event stream on a room.
type Client struct {
	C        chan Frame
	tenantID string
	roomID   string
	agent    bool
}

// RoomBroadcaster manages tenant-scoped, room-specific SSE connections.
// Delivery is best effort: a full client buffer drops the event.
type RoomBroadcaster struct {
	rooms  map[string]map[string][]*Client // tenantId -> roomId -> clients
	mu     sync.Mutex
	logger *logging.ChanneledLogger
}

func NewRoomBroadcaster(logger *logging.ChanneledLogger) *RoomBroadcaster {
	return &RoomBroadcaster{
		rooms:  make(map[string]map[string][]*Client),
		logger: logger,
	}
}

// Subscribe registers a client on a room. agent controls whether internal
// events are delivered.
func (b *RoomBroadcaster) Subscribe(tenantID, roomID string, agent bool) *Client {
	client := &Client{C: make(chan Frame, clientBuffer), tenantID: tenantID, roomID: roomID, agent: agent}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rooms[tenantID] == nil {
		b.rooms[tenantID] = make(map[string][]*Client)
	}
	b.rooms[tenantID][roomID] = append(b.rooms[tenantID][roomID], client)

	b.logger.Room().Debug().Str("tenantId", tenantID).Str("roomId", roomID).Bool("agent", agent).Msg("Room stream client registered")
	return client
}

// Unsubscribe removes the client and closes its channel.
func (b *RoomBroadcaster) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tenantRooms, exists := b.rooms[client.tenantID]
	if !exists {
		return
	}
	clients := tenantRooms[client.roomID]
	kept := make([]*Client, 0, len(clients))
	for _, c := range clients {
		if c == client {
			close(c.C)
			continue
		}
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		delete(tenantRooms, client.roomID)
	} else {
		tenantRooms[client.roomID] = kept
	}
	if len(tenantRooms) == 0 {
		delete(b.rooms, client.tenantID)
	}
	b.logger.Room().Debug().Str("tenantId", client.tenantID).Str("roomId", client.roomID).Msg("Room stream client unregistered")
}

// ConnectionCount returns the number of open streams on a room.
func (b *RoomBroadcaster) ConnectionCount(tenantID, roomID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rooms[tenantID][roomID])
}

// Publish sends ev to every subscriber of the room.
func (b *RoomBroadcaster) Publish(tenantID, roomID string, ev Event) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		b.logger.Room().Error().Err(err).Str("roomId", roomID).Str("event", ev.Type).Msg("Failed to encode room event")
		return
	}
	frame := Frame{Type: ev.Type, Data: data}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, client := range b.rooms[tenantID][roomID] {
		if ev.Internal && !client.agent {
			continue
		}
		select {
		case client.C <- frame:
		default:
			b.logger.Room().Warn().Str("tenantId", tenantID).Str("roomId", roomID).Str("event", ev.Type).Msg("Room stream buffer full, event dropped")
		}
	}
}
