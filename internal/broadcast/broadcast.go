package broadcast

import (
	"sync"
)

// EventMessage is one server-sent event.
type EventMessage struct {
	Event string
	Data  string
}

// Broadcaster fans events out to server-sent-event subscribers.
type Broadcaster struct {
	mu      sync.Mutex
	clients map[chan EventMessage]bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[chan EventMessage]bool),
	}
}

func (b *Broadcaster) Subscribe() chan EventMessage {
	ch := make(chan EventMessage, 10)
	b.mu.Lock()
	b.clients[ch] = true
	b.mu.Unlock()
	return ch
}

func (b *Broadcaster) Unsubscribe(ch chan EventMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.clients[ch] {
		return
	}
	delete(b.clients, ch)
	close(ch)
}

func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *Broadcaster) Publish(event string, data string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- EventMessage{Event: event, Data: data}:
		default:
			// skip clients with full data channels
		}
	}
}
