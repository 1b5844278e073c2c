// Package transport describes the capability the sync engine needs from a peer
// network: binding a self id, dialing reliable ordered channels by peer id,
// accepting incoming channels and reporting per-channel lifecycle events.
package transport

import (
	"context"
	"errors"
)

var (
	ErrIDTaken         = errors.New("transport: id already taken")
	ErrPeerUnavailable = errors.New("transport: peer unavailable")
	ErrClosed          = errors.New("transport: closed")
)

type EventKind int

const (
	EventOpen EventKind = iota
	EventData
	EventClose
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventData:
		return "data"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	}
	return "unknown"
}

type Event struct {
	Kind EventKind
	Data []byte
	Err  error
}

type Network interface {
	// Bind registers an endpoint under id. An empty id lets the network assign
	// one. Binding an id already in use fails with ErrIDTaken.
	Bind(ctx context.Context, id string) (Endpoint, error)
}

type Endpoint interface {
	ID() string
	// Dial starts a channel to remote and returns immediately; readiness is
	// reported by an EventOpen on the Conn.
	Dial(remote string) (Conn, error)
	Incoming() <-chan Conn
	// Done is closed when the endpoint is closed or lost; Err then reports why.
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Conn delivers events in the order they occur. The Events channel is closed
// after the final EventClose or EventError.
type Conn interface {
	Peer() string
	Events() <-chan Event
	Send(data []byte) error
	Close() error
}
