package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Hub tracks which connections belong to which delivery rooms. All state is
// ephemeral: it is rebuilt from the store and the live connections, so a
// restart loses nothing durable.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client          // connection id -> client
	rooms   map[string]map[*Client]bool // room -> members

	log *zap.SugaredLogger
}

func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		clients: map[string]*Client{},
		rooms:   map[string]map[*Client]bool{},
		log:     log,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
}

// Unregister drops the connection from every room it joined and closes its
// send channel. Membership is connection-scoped: there is no explicit leave.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	delete(h.clients, c.ID)

	for room := range c.rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	c.rooms = map[string]bool{}
	close(c.Send)
}

// JoinRoom is idempotent: joining a room twice leaves membership unchanged.
func (h *Hub) JoinRoom(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.ID]; !ok {
		return // connection already closed
	}
	if h.rooms[room] == nil {
		h.rooms[room] = map[*Client]bool{}
	}
	h.rooms[room][c] = true
	c.rooms[room] = true
}

// EmitToRoom pushes an event to every connection currently in the room.
// Delivery is fire-and-forget: a slow or closed connection just misses it.
func (h *Hub) EmitToRoom(room string, event string, data interface{}) {
	h.emit(room, nil, event, data)
}

// EmitToRoomExcept is EmitToRoom minus the originating connection, used for
// typing indicators which must not echo back to the sender.
func (h *Hub) EmitToRoomExcept(room string, skip *Client, event string, data interface{}) {
	h.emit(room, skip, event, data)
}

// EmitToUser targets the per-user room, so every session of that user
// receives the event regardless of channel membership.
func (h *Hub) EmitToUser(userID uint, event string, data interface{}) {
	h.emit(UserRoom(userID), nil, event, data)
}

func (h *Hub) emit(room string, skip *Client, event string, data interface{}) {
	frame, err := marshalEnvelope(event, data)
	if err != nil {
		h.log.Errorw("encoding event", "event", event, "error", err)
		return
	}

	// The sends stay under the read lock: Unregister closes Send under the
	// write lock, so a disconnect can never close a channel between the
	// membership lookup and the send. The select keeps this non-blocking.
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		if c == skip {
			continue
		}
		select {
		case c.Send <- frame:
		default:
			// no backpressure: drop instead of blocking the emitter
		}
	}
}

func marshalEnvelope(event string, data interface{}) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&Envelope{Event: event, Data: payload})
}
