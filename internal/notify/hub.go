package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Relay forwards events to other instances.
type Relay interface {
	Publish(ctx context.Context, ev Event) error
}

const relayQueueSize = 256

// Hub broadcasts progress events to the subscribers of a topic. Delivery is
// fire-and-forget: with no subscriber the event is dropped, and a subscriber
// whose Send fails is closed and removed. Sends happen outside the hub lock,
// so a slow subscriber only delays its own topic.
type Hub struct {
	mu         sync.Mutex
	clients    map[string]map[Subscriber]struct{}
	relayQueue chan Event
	log        *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[Subscriber]struct{}),
		log:     log,
	}
}

// SetRelay starts forwarding published events to r in the background.
// Events are dropped while the relay queue is full. A nil r stops relaying.
func (h *Hub) SetRelay(r Relay) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.relayQueue != nil {
		close(h.relayQueue)
		h.relayQueue = nil
	}
	if r == nil {
		return
	}
	q := make(chan Event, relayQueueSize)
	h.relayQueue = q
	go h.forward(r, q)
}

func (h *Hub) forward(r Relay, q <-chan Event) {
	for ev := range q {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := r.Publish(ctx, ev); err != nil {
			h.log.Warn("progress relay publish failed", zap.String("topic", ev.Topic), zap.Error(err))
		}
		cancel()
	}
}

// Register adds a client to a topic.
func (h *Hub) Register(topic string, client Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[topic]; !ok {
		h.clients[topic] = make(map[Subscriber]struct{})
	}
	h.clients[topic][client] = struct{}{}
}

// Unregister removes a client.
func (h *Hub) Unregister(topic string, client Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.clients[topic]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.clients, topic)
		}
	}
}

// Subscribers reports how many clients listen on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[topic])
}

// Publish delivers ev to local subscribers, then queues it for the relay.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	h.Deliver(ev)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.relayQueue == nil {
		return
	}
	select {
	case h.relayQueue <- ev:
	default:
		h.log.Warn("progress relay queue full, dropping event", zap.String("topic", ev.Topic))
	}
}

// Deliver sends ev to local subscribers only.
func (h *Hub) Deliver(ev Event) {
	payload, err := ev.Marshal()
	if err != nil {
		h.log.Warn("failed to marshal progress event", zap.Error(err))
		return
	}

	h.mu.Lock()
	clients := make([]Subscriber, 0, len(h.clients[ev.Topic]))
	for c := range h.clients[ev.Topic] {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.Send(payload); err != nil {
			c.Close()
			h.Unregister(ev.Topic, c)
		}
	}
}
