package wshub

import (
	"context"
	"encoding/json"
	"kniffel/internal/peersync"
	"kniffel/internal/scoresheet"
	"sync"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
)

const (
	TypeState = "state"
	TypePeers = "peers"
)

// ServerMessage is the JSON structure pushed to browser clients.
type ServerMessage struct {
	Type   string                `json:"t"`
	State  *scoresheet.GameState `json:"state,omitempty"`
	Status *peersync.Status      `json:"status,omitempty"`
}

func StateMessage(state scoresheet.GameState) ServerMessage {
	return ServerMessage{Type: TypeState, State: &state}
}

func PeersMessage(status peersync.Status) ServerMessage {
	return ServerMessage{Type: TypePeers, Status: &status}
}

// Client represents a single WebSocket connection in the hub.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
}

// WritePump reads from the Send channel and writes to the WebSocket connection.
func (c *Client) WritePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.Send:
			if !ok {
				return
			}
			if err := c.Conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}
}

// Hub fans snapshots out to every connected browser.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		log:     log.With().Str("component", "wshub").Logger(),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
	h.log.Debug().Str("client", c.ID).Int("clients", len(h.clients)).Msg("client registered")
}

// Unregister removes a client and closes its Send channel.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	if !ok {
		return
	}
	close(c.Send)
	delete(h.clients, id)
	h.log.Debug().Str("client", id).Int("clients", len(h.clients)).Msg("client unregistered")
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Encode marshals msg for a client's Send channel.
func Encode(msg ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// Broadcast sends a message to all clients. Non-blocking: a client whose
// channel is full misses it and catches up on the next snapshot.
func (h *Hub) Broadcast(msg ServerMessage) {
	data, err := Encode(msg)
	if err != nil {
		h.log.Error().Err(err).Str("type", msg.Type).Msg("cannot encode message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, c := range h.clients {
		select {
		case c.Send <- data:
		default:
			h.log.Debug().Str("client", id).Msg("send buffer full, dropping message")
		}
	}
}
