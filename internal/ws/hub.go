package ws

import (
	"sync"

	"github.com/staylight/livechat/internal/logging"
)

// Envelope is the wire shape for every socket event in both directions.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub maps topics to subscribed clients and fans events out. Topics are the
// per-session rooms plus the agents broadcast group; the hub itself knows
// nothing about either, it only moves envelopes. Implements chat.Publisher.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Client]struct{}
	rooms  map[*Client]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		topics: make(map[string]map[*Client]struct{}),
		rooms:  make(map[*Client]map[string]struct{}),
	}
}

// Add registers a connection with the hub.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rooms[c] = make(map[string]struct{})
}

// Remove detaches a connection from every topic and closes its send queue.
// Idempotent: disconnect cleanup after an eviction is a no-op here.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	set, ok := h.rooms[c]
	if !ok {
		return
	}
	for topic := range set {
		if subs, ok := h.topics[topic]; ok {
			delete(subs, c)
			if len(subs) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	delete(h.rooms, c)
	c.closeSend()
}

// Subscribe joins a client to a topic. Idempotent: at most one subscription
// per topic per connection.
func (h *Hub) Subscribe(c *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.rooms[c]
	if !ok {
		return
	}
	set[topic] = struct{}{}
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*Client]struct{})
	}
	h.topics[topic][c] = struct{}{}
}

// Unsubscribe drops a client from a topic.
func (h *Hub) Unsubscribe(c *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.rooms[c]; ok {
		delete(set, topic)
	}
	if subs, ok := h.topics[topic]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Publish delivers an event to every connection on the topic. A connection
// with a full send buffer is evicted rather than allowed to stall the room.
func (h *Hub) Publish(topic, event string, payload any) {
	h.publish(topic, Envelope{Type: event, Payload: payload}, nil)
}

// PublishExcept is Publish minus one connection, used for typing relays so
// the typist does not see its own indicator.
func (h *Hub) PublishExcept(topic, event string, payload any, except *Client) {
	h.publish(topic, Envelope{Type: event, Payload: payload}, except)
}

func (h *Hub) publish(topic string, env Envelope, except *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var toEvict []*Client
	for c := range h.topics[topic] {
		if c == except {
			continue
		}
		if !c.trySend(env) {
			toEvict = append(toEvict, c)
		}
	}
	for _, c := range toEvict {
		logging.Warn().Str("topic", topic).Str("conn_id", c.id).Msg("send buffer full, evicting client")
		h.removeLocked(c)
	}
}

// Subscribers returns the number of connections on a topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
