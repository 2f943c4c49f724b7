package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Client is one websocket connection of a consultant.
type Client struct {
	ID     string
	UserID uuid.UUID
	Send   chan []byte
}

func NewClient(userID uuid.UUID) *Client {
	return &Client{ID: uuid.NewString(), UserID: userID, Send: make(chan []byte, 64)}
}

// Hub fans payment updates out to the sockets connected to this instance, indexed by
// consultant so a delivery only touches that consultant's connections.
type Hub struct {
	mu     sync.RWMutex
	byUser map[uuid.UUID]map[string]*Client

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		byUser:     make(map[uuid.UUID]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// RegisterClient adds client. After the hub stopped it closes client.Send instead.
func (h *Hub) RegisterClient(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.Send)
	}
}

// UnregisterClient is safe to call after the hub stopped.
func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// SendToUser delivers data to every connection of userID. A full buffer drops the message
// for that connection only.
func (h *Hub) SendToUser(userID uuid.UUID, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		slog.Default().Error("marshal realtime message", "module", "realtime", "error", err)
		return
	}
	h.sendRaw(userID, payload)
}

func (h *Hub) sendRaw(userID uuid.UUID, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, client := range h.byUser[userID] {
		select {
		case client.Send <- payload:
			n++
		default:
			slog.Default().Debug("realtime buffer full, message dropped", "module", "realtime", "client_id", client.ID)
		}
	}
	return n
}

func (h *Hub) Connected(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.byUser[c.UserID]
	if conns == nil {
		conns = make(map[string]*Client)
		h.byUser[c.UserID] = conns
	}
	conns[c.ID] = c
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.byUser[c.UserID]
	if _, ok := conns[c.ID]; !ok {
		return
	}
	delete(conns, c.ID)
	close(c.Send)
	if len(conns) == 0 {
		delete(h.byUser, c.UserID)
	}
}

// Run owns registration until ctx ends, then closes every connection's send channel.
func (h *Hub) Run(ctx context.Context) {
	defer h.stopOnce.Do(func() { close(h.done) })
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for uid, conns := range h.byUser {
				for _, c := range conns {
					close(c.Send)
				}
				delete(h.byUser, uid)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.add(c)
			slog.Default().Debug("realtime client registered", "module", "realtime", "client_id", c.ID, "user_id", c.UserID)

		case c := <-h.unregister:
			h.remove(c)
		}
	}
}
