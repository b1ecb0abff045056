package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"service-dispatch/internal/shared/util"
)

const sendBuffer = 32

// Envelope is the frame every subscriber receives.
type Envelope struct {
	Room      string          `json:"room"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

func NewEnvelope(room, event string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Room: room, Event: event, Payload: body, Timestamp: time.Now().UTC()})
}

type Client struct {
	ID      string
	Subject string
	Send    chan []byte
	rooms   map[string]struct{}
}

func NewClient(id, subject string) *Client {
	return &Client{ID: id, Subject: subject, Send: make(chan []byte, sendBuffer), rooms: make(map[string]struct{})}
}

// Hub tracks room membership for connections on this instance.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Client
	log   *util.Logger
}

func NewHub(log *util.Logger) *Hub {
	return &Hub{rooms: make(map[string]map[string]*Client), log: log}
}

func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[c.ID] = c
	c.rooms[room] = struct{}{}
}

func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) leaveLocked(c *Client, room string) {
	delete(c.rooms, room)
	members := h.rooms[room]
	delete(members, c.ID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Unregister removes the client from every room and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	close(c.Send)
}

func (h *Hub) Subscribers(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Publish delivers to local subscribers only. Absent subscribers miss the event.
func (h *Hub) Publish(ctx context.Context, room, event string, payload interface{}) error {
	msg, err := NewEnvelope(room, event, payload)
	if err != nil {
		return err
	}
	h.Deliver(room, msg)
	return nil
}

// Deliver fans an encoded envelope out to the room and returns how many
// clients accepted it. Slow clients with a full buffer are skipped.
func (h *Hub) Deliver(room string, msg []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, c := range h.rooms[room] {
		select {
		case c.Send <- msg:
			delivered++
		default:
			h.log.Warn("Hub.Deliver", fmt.Sprintf("drop message for client %s in %s", c.ID, room))
		}
	}
	return delivered
}
