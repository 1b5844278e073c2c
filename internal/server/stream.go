package server

import (
	"context"
	"fmt"
	"kniffel/internal/wshub"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

func (s *Server) snapshots() []wshub.ServerMessage {
	return []wshub.ServerMessage{
		wshub.StateMessage(s.node.Store.State()),
		wshub.PeersMessage(s.node.Engine.Status()),
	}
}

// handleWS pushes the current state and peer status, then every change.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()

	client := &wshub.Client{
		ID:   uuid.New().String(),
		Conn: conn,
		Send: make(chan []byte, 16),
	}
	for _, msg := range s.snapshots() {
		data, err := wshub.Encode(msg)
		if err != nil {
			continue
		}
		client.Send <- data
	}
	s.hub.Register(client)
	defer s.hub.Unregister(client.ID)

	// The browser never sends; CloseRead handles pings and the close frame.
	ctx := conn.CloseRead(r.Context())
	client.WritePump(ctx)
	conn.Close(websocket.StatusNormalClosure, "")
}

// handleEvents is the server-sent-events variant of handleWS.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	msgChan := s.events.Subscribe()
	defer s.events.Unsubscribe(msgChan)

	write := func(event, data string) {
		fmt.Fprintf(w, "event: %s\n", event)
		for _, line := range strings.Split(data, "\n") {
			fmt.Fprintf(w, "data: %s\n", line)
		}
		fmt.Fprint(w, "\n")
		flusher.Flush()
	}

	for _, msg := range s.snapshots() {
		data, err := wshub.Encode(msg)
		if err != nil {
			continue
		}
		write(msg.Type, string(data))
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-msgChan:
			if !ok {
				return
			}
			write(msg.Event, msg.Data)
		}
	}
}

func (s *Server) push(msg wshub.ServerMessage) {
	s.hub.Broadcast(msg)
	data, err := wshub.Encode(msg)
	if err != nil {
		return
	}
	s.events.Publish(msg.Type, string(data))
}

// Forward relays change notifications to browsers until ctx is done. Each
// notification re-reads the current value, so bursts collapse into one push.
func (s *Server) Forward(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.node.Bus.StateChanges:
			s.push(wshub.StateMessage(s.node.Store.State()))
		case <-s.node.Bus.PeerChanges:
			s.push(wshub.PeersMessage(s.node.Engine.Status()))
		}
	}
}
