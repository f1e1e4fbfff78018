package sse

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Client is an open stream. A client without a participant is a bridge and
// receives every message.
type Client struct {
	ClientID      string
	ParticipantID *string
	ConnectedAt   time.Time
	MessageChan   chan *Message
}

func NewClient(clientID string, participantID *string) *Client {
	return &Client{
		ClientID:      clientID,
		ParticipantID: participantID,
		ConnectedAt:   time.Now().UTC(),
		MessageChan:   make(chan *Message, 100),
	}
}

func (c *Client) Close() {
	close(c.MessageChan)
}

func (c *Client) isBridge() bool {
	return c.ParticipantID == nil
}

// Message is one SSE frame.
type Message struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

func NewMessage(event string, data json.RawMessage) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Hub manages SSE clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client

	bridged     chan struct{}
	bridgedOnce sync.Once
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		bridged: make(chan struct{}),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.clients[client.ClientID]; ok {
		old.Close()
	}
	h.clients[client.ClientID] = client
	if client.isBridge() {
		h.bridgedOnce.Do(func() { close(h.bridged) })
	}
}

// BridgeConnected is closed once the first bridge stream registers.
func (h *Hub) BridgeConnected() <-chan struct{} {
	return h.bridged
}

// Unregister removes client unless it was already replaced by a newer
// registration with the same id.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[client.ClientID]; ok && c == client {
		c.Close()
		delete(h.clients, client.ClientID)
	}
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Deliver sends message to bridge clients and to clients of the given
// participants. It returns the number of clients that accepted it.
func (h *Hub) Deliver(participants []string, message *Message) int {
	want := make(map[string]struct{}, len(participants))
	for _, p := range participants {
		want[p] = struct{}{}
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for _, c := range h.clients {
		if !c.isBridge() {
			if _, ok := want[*c.ParticipantID]; !ok {
				continue
			}
		}
		if trySend(c, message) {
			sent++
		}
	}
	return sent
}

func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.Close()
		delete(h.clients, id)
	}
}

func trySend(c *Client, msg *Message) bool {
	select {
	case c.MessageChan <- msg:
		return true
	default:
		return false
	}
}
