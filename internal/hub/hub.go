package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// Message is one frame pushed to the browser.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Client is one websocket connection attached to a planning session.
type Client struct {
	ID        string
	SessionID string
	Send      chan []byte
}

func NewClient(id, sessionID string, bufferSize int) *Client {
	return &Client{
		ID:        id,
		SessionID: sessionID,
		Send:      make(chan []byte, bufferSize),
	}
}

type envelope struct {
	sessionID string
	client    *Client
	msg       Message
}

// Hub fans session messages out to the connections of that session. A tab
// that reconnects gets a new Client for the same session. Messages are never
// dropped: publishers wait for the hub, and a connection whose send buffer
// is full is disconnected.
type Hub struct {
	mu             sync.RWMutex
	clients        map[*Client]struct{}
	sessionClients map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	publish    chan envelope
	done       chan struct{}

	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:        make(map[*Client]struct{}),
		sessionClients: make(map[string]map[*Client]struct{}),
		register:       make(chan *Client),
		unregister:     make(chan *Client, 16),
		publish:        make(chan envelope, 256),
		done:           make(chan struct{}),
		logger:         logger.With("component", "hub"),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case env := <-h.publish:
			h.fanout(env)
		}
	}
}

// Register attaches client. Messages published after Register returns reach
// it.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish queues msg for every connection of sessionID. Messages of one
// session are delivered in publish order. Publish waits while the queue is
// full and returns immediately once the hub has stopped.
func (h *Hub) Publish(sessionID string, msg Message) {
	h.enqueue(envelope{sessionID: sessionID, msg: msg})
}

// SendTo queues msg for client alone. It is a no-op for a client that has
// been unregistered.
func (h *Hub) SendTo(client *Client, msg Message) {
	h.enqueue(envelope{sessionID: client.SessionID, client: client, msg: msg})
}

func (h *Hub) enqueue(env envelope) {
	select {
	case h.publish <- env:
	case <-h.done:
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SessionClientCount returns the number of connections attached to sessionID.
func (h *Hub) SessionClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessionClients[sessionID])
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = struct{}{}
	if h.sessionClients[client.SessionID] == nil {
		h.sessionClients[client.SessionID] = make(map[*Client]struct{})
	}
	h.sessionClients[client.SessionID][client] = struct{}{}
	h.logger.Debug("client registered", "client_id", client.ID, "session_id", client.SessionID, "total", len(h.clients))
}

func (h *Hub) fanout(env envelope) {
	h.mu.RLock()
	var targets []*Client
	if env.client != nil {
		if _, ok := h.clients[env.client]; ok {
			targets = append(targets, env.client)
		}
	} else {
		for client := range h.sessionClients[env.sessionID] {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(env.msg)
	if err != nil {
		h.logger.Error("failed to marshal message", "type", env.msg.Type, "error", err)
		return
	}

	for _, client := range targets {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn("client send buffer full, disconnecting", "client_id", client.ID,
				"session_id", client.SessionID, "type", env.msg.Type)
			h.removeClient(client)
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}

	if set := h.sessionClients[client.SessionID]; set != nil {
		delete(set, client)
		if len(set) == 0 {
			delete(h.sessionClients, client.SessionID)
		}
	}

	delete(h.clients, client)
	close(client.Send)
	h.logger.Debug("client unregistered", "client_id", client.ID, "total", len(h.clients))
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.Send)
	}
	h.clients = make(map[*Client]struct{})
	h.sessionClients = make(map[string]map[*Client]struct{})
}
